package enrich

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is the translation target of the email task.
const DefaultLanguage = "kannada"

// EmailTask summarizes each email body and translates the summary.
func EmailTask(language string) Task {
	if language == "" {
		language = DefaultLanguage
	}
	return Task{
		Name: "email",
		Steps: []Step{
			{
				Name:   "Summary",
				Prompt: "Summarize the following email: {{.body}}",
			},
			{
				Name:      "Translated Summary",
				Prompt:    "Translate the following text to {{.language}} (provide only the translation, no extra details): {{.Summary}}",
				DependsOn: []string{"Summary"},
				Trim:      true,
			},
		},
		Columns: []Column{
			{Header: "From", Field: "from"},
			{Header: "To", Field: "to"},
			{Header: "Summary", Step: "Summary"},
			{Header: "Translated Summary", Step: "Translated Summary"},
		},
		Vars: map[string]string{"language": language},
	}
}

// ReviewTask guesses the product, classifies sentiment and drafts a reply for each review.
func ReviewTask() Task {
	return Task{
		Name: "review",
		Steps: []Step{
			{
				Name:   "Guessed Product",
				Prompt: "Guess the product category or name for this review: {{.Review}}",
				Trim:   true,
			},
			{
				Name:   "Sentiment",
				Prompt: "Categorize the sentiment of this review as Positive, Negative, or Neutral: {{.Review}}",
				Trim:   true,
			},
			{
				Name:      "Reply",
				Prompt:    "Write a 30-word reply to this review. The sentiment is {{.Sentiment}}: {{.Review}}",
				DependsOn: []string{"Sentiment"},
				Trim:      true,
			},
		},
		Columns: []Column{
			{Header: "Original Product", Field: "Product"},
			{Header: "Guessed Product", Step: "Guessed Product"},
			{Header: "Review", Field: "Review"},
			{Header: "Sentiment", Step: "Sentiment"},
			{Header: "Reply", Step: "Reply"},
		},
	}
}

// ParseTask decodes a YAML task document.
func ParseTask(b []byte) (Task, error) {
	var t Task
	if err := yaml.Unmarshal(b, &t); err != nil {
		return Task{}, fmt.Errorf("parse task yaml: %w", err)
	}
	return t, nil
}

// LoadTask reads a YAML task from path.
func LoadTask(path string) (Task, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Task{}, fmt.Errorf("read task file: %w", err)
	}
	return ParseTask(b)
}

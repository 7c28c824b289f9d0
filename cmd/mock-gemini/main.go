package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/gemini-record-pipeline/internal/mockgemini"
)

func main() {
	addr := defaultString("MOCK_GEMINI_ADDR", ":8081")
	apiKey := defaultString("MOCK_GEMINI_API_KEY", "")
	prefix := defaultString("MOCK_GEMINI_REPLY_PREFIX", "")

	fs := flag.NewFlagSet("mock-gemini", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&apiKey, "api-key", apiKey, "Require this x-goog-api-key value; empty accepts any (env: MOCK_GEMINI_API_KEY)")
	fs.StringVar(&prefix, "reply-prefix", prefix, "Prefix added to every echoed prompt (env: MOCK_GEMINI_REPLY_PREFIX)")
	_ = fs.Parse(os.Args[1:])

	srv := mockgemini.New()
	srv.RequireAPIKey(apiKey)
	if prefix != "" {
		srv.SetResponder(func(c mockgemini.Call) (string, int) {
			return prefix + c.Prompt, 0
		})
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-gemini listening on %s (set GEMINI_BASE_URL=http://localhost%s)\n", addr, addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}

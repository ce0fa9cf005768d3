package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/talkback/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "valid minimal",
			yaml: "assistant:\n  webhook:\n    url: http://localhost:5678/webhook\n",
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "bad variant",
			yaml:    "speech:\n  variant: klingon\n",
			wantErr: []string{"speech.variant"},
		},
		{
			name:    "fallback without primary",
			yaml:    "speech:\n  fallback_engine:\n    name: command\n",
			wantErr: []string{"speech.fallback_engine requires speech.engine"},
		},
		{
			name:    "coqui without url",
			yaml:    "speech:\n  engine:\n    name: coqui\n",
			wantErr: []string{"speech.engine.base_url"},
		},
		{
			name:    "negative durations",
			yaml:    "speech:\n  catalog_ttl: -1s\n  stop_timeout: -2s\n",
			wantErr: []string{"speech.catalog_ttl", "speech.stop_timeout"},
		},
		{
			name:    "llm without model",
			yaml:    "assistant:\n  llm:\n    name: openai\n",
			wantErr: []string{"assistant.llm.model"},
		},
		{
			name:    "negative window",
			yaml:    "assistant:\n  history_window: -3\n",
			wantErr: []string{"assistant.history_window"},
		},
		{
			name:    "bad history backend",
			yaml:    "history:\n  backend: redis\n",
			wantErr: []string{"history.backend"},
		},
		{
			name:    "sqlite without dsn",
			yaml:    "history:\n  backend: sqlite\n",
			wantErr: []string{"history.dsn"},
		},
		{
			name: "all errors reported together",
			yaml: `
server:
  log_level: loud
speech:
  variant: klingon
history:
  backend: redis
`,
			wantErr: []string{"server.log_level", "speech.variant", "history.backend"},
		},
		{
			name: "unknown provider only warns",
			yaml: "speech:\n  engine:\n    name: my-engine\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"listsync/pkg/api"
)

func TestStatusCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if r.URL.Path != "/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		resp := api.StatusResponse{Workers: []api.WorkerStatus{
			{AccountID: "acc-1", PID: 4242, State: "running", Restarts: 0, StartedAt: time.Now().Add(-time.Hour)},
			{AccountID: "acc-2", PID: 4242, State: "restarting", Restarts: 3, StartedAt: time.Now().Add(-time.Minute)},
		}}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "acc-1") || !strings.Contains(output, "acc-2") {
		t.Errorf("expected both accounts in output, got: %s", output)
	}
	if !strings.Contains(output, "running") {
		t.Errorf("expected running state, got: %s", output)
	}
	if !strings.Contains(output, "restarting") {
		t.Errorf("expected restarting state, got: %s", output)
	}
}

func TestStatusCommand_NoWorkers(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.StatusResponse{})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "No workers managed") {
		t.Errorf("expected empty message, got: %s", stdout.String())
	}
}

func TestStatusCommand_ServerError(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Failed to fetch status") {
		t.Errorf("expected failure message, got: %s", stdout.String())
	}
}

func TestStateIcon(t *testing.T) {
	tests := []struct {
		state    string
		contains string
	}{
		{"running", "✓"},
		{"restarting", "⟳"},
		{"stopped", "✗"},
		{"unknown", "•"},
	}

	for _, tt := range tests {
		if got := stateIcon(tt.state); !strings.Contains(got, tt.contains) {
			t.Errorf("stateIcon(%s) should contain %s, got: %s", tt.state, tt.contains, got)
		}
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		offset   time.Duration
		contains string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{49 * time.Hour, "2d 1h"},
	}

	for _, tt := range tests {
		started := time.Now().Add(-tt.offset)
		if got := formatUptime(started); !strings.Contains(got, tt.contains) {
			t.Errorf("formatUptime(%v ago) should contain %s, got: %s", tt.offset, tt.contains, got)
		}
	}

	if got := formatUptime(time.Time{}); got != "-" {
		t.Errorf("zero start time should render -, got: %s", got)
	}
}

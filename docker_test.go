package lensecho_test

import (
	"os"
	"strings"
	"testing"
)

// TestDeploymentFiles はコンテナ構成ファイルが運用に必要な設定を含むことを検証する。
func TestDeploymentFiles(t *testing.T) {
	tests := []struct {
		file string
		want []string
	}{
		{
			file: "Dockerfile",
			want: []string{
				"FROM golang:",
				"-o /out/lensecho ./cmd/lensecho",
				"CGO_ENABLED=0",
				"USER nonroot",
				// distroless環境にはシェルがないためサブコマンドでヘルスチェックする
				`CMD ["/usr/local/bin/lensecho", "healthcheck"]`,
				`ENTRYPOINT ["/usr/local/bin/lensecho"]`,
			},
		},
		{
			file: "docker-compose.yml",
			want: []string{
				"image: postgres:",
				`command: ["migrate"]`,
				`command: ["serve"]`,
				`command: ["worker"]`,
				"condition: service_completed_successfully",
				"internal: true",
			},
		},
		{
			file: ".env.example",
			want: []string{
				"DATABASE_URL=",
				"BACKEND_MODE=",
				"BACKEND_ENDPOINT=",
				"BACKEND_PROJECT_ID=",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			data, err := os.ReadFile(tt.file)
			if err != nil {
				t.Fatalf("failed to read %s: %v", tt.file, err)
			}
			content := string(data)
			for _, s := range tt.want {
				if !strings.Contains(content, s) {
					t.Errorf("%s should contain %q", tt.file, s)
				}
			}
		})
	}
}

// TestDockerfileFinalStage は実行ステージが最小イメージであることを検証する。
func TestDockerfileFinalStage(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}

	var stages []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "FROM ") {
			stages = append(stages, strings.TrimSpace(line))
		}
	}
	if len(stages) < 2 {
		t.Fatalf("expected multi-stage build, got %d stage(s)", len(stages))
	}
	if final := stages[len(stages)-1]; !strings.Contains(final, "distroless") {
		t.Errorf("final stage = %q, want distroless image", final)
	}
}

// TestDockerComposeNetworkIsolation はDBとworkerが内部ネットワークのみに属し、
// apiだけがバックエンドへ出られることを検証する。
func TestDockerComposeNetworkIsolation(t *testing.T) {
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("failed to read docker-compose.yml: %v", err)
	}

	services := composeServiceBlocks(string(data))
	for _, name := range []string{"db", "migrate", "api", "worker"} {
		if _, ok := services[name]; !ok {
			t.Errorf("service %q not defined", name)
		}
	}

	for name, block := range services {
		hasExternal := strings.Contains(block, "- external")
		if name == "api" && !hasExternal {
			t.Error("api should join the external network")
		}
		if name != "api" && hasExternal {
			t.Errorf("%s should not join the external network", name)
		}
	}
}

// composeServiceBlocks はservices直下のサービス名ごとに定義ブロックの文字列を返す。
func composeServiceBlocks(content string) map[string]string {
	blocks := make(map[string]string)
	inServices := false
	current := ""
	for _, line := range strings.Split(content, "\n") {
		switch {
		case line == "services:":
			inServices = true
			continue
		case line != "" && !strings.HasPrefix(line, " "):
			inServices = false
			current = ""
		}
		if !inServices {
			continue
		}
		if strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "   ") && strings.HasSuffix(line, ":") {
			current = strings.TrimSuffix(strings.TrimSpace(line), ":")
			blocks[current] = ""
			continue
		}
		if current != "" {
			blocks[current] += line + "\n"
		}
	}
	return blocks
}

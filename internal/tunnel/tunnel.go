// Package tunnel exposes the local web port through a public tunnel so the
// share URL can be sent to viewers outside the LAN. The tunnel binary is an
// external collaborator; only its public URL is consumed.
package tunnel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"regexp"
	"time"
)

// Tunnel is a running public tunnel process.
type Tunnel struct {
	PublicURL string
	cmd       *exec.Cmd
}

// Launch starts the given provider ("cloudflared" or "ngrok") for the local
// port and waits until a public URL is known.
func Launch(ctx context.Context, provider string, port int) (*Tunnel, error) {
	switch provider {
	case "cloudflared":
		return launchCloudflared(ctx, port)
	case "ngrok":
		return launchNgrok(ctx, port)
	default:
		return nil, fmt.Errorf("unknown tunnel provider %q", provider)
	}
}

// Stop terminates the tunnel process.
func (t *Tunnel) Stop() {
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
	}
}

var cloudflaredURL = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// launchCloudflared runs a quick tunnel and scrapes the assigned
// trycloudflare URL from the process output.
func launchCloudflared(ctx context.Context, port int) (*Tunnel, error) {
	path, err := exec.LookPath("cloudflared")
	if err != nil {
		return nil, fmt.Errorf("cloudflared not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, "tunnel", "--url", fmt.Sprintf("http://localhost:%d", port))
	// cloudflared prints the assigned URL on stderr.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start cloudflared: %w", err)
	}

	urlCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if url := cloudflaredURL.FindString(scanner.Text()); url != "" {
				select {
				case urlCh <- url:
				default:
				}
			}
		}
	}()

	select {
	case url := <-urlCh:
		log.Printf("Tunnel ready: %s", url)
		return &Tunnel{PublicURL: url, cmd: cmd}, nil
	case <-time.After(30 * time.Second):
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("cloudflared produced no public URL within 30s")
	case <-ctx.Done():
		cmd.Process.Kill()
		cmd.Wait()
		return nil, ctx.Err()
	}
}

type ngrokTunnels struct {
	Tunnels []struct {
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
	} `json:"tunnels"`
}

// launchNgrok starts ngrok and polls its local API for the public URL.
func launchNgrok(ctx context.Context, port int) (*Tunnel, error) {
	path, err := exec.LookPath("ngrok")
	if err != nil {
		return nil, fmt.Errorf("ngrok not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, "http", fmt.Sprintf("%d", port))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ngrok: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
			cmd.Wait()
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		url, err := queryNgrokAPI(ctx)
		if err != nil {
			continue
		}
		if url != "" {
			log.Printf("Tunnel ready: %s", url)
			return &Tunnel{PublicURL: url, cmd: cmd}, nil
		}
	}

	cmd.Process.Kill()
	cmd.Wait()
	return nil, fmt.Errorf("ngrok produced no public URL within 30s")
}

func queryNgrokAPI(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:4040/api/tunnels", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tunnels ngrokTunnels
	if err := json.NewDecoder(resp.Body).Decode(&tunnels); err != nil {
		return "", err
	}
	for _, t := range tunnels.Tunnels {
		if t.Proto == "https" {
			return t.PublicURL, nil
		}
	}
	for _, t := range tunnels.Tunnels {
		if t.PublicURL != "" {
			return t.PublicURL, nil
		}
	}
	return "", nil
}

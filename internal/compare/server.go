package compare

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sitemirror/sitemirror/internal/fault"
)

// ensureTarget verifies the generated render target answers HTTP within the
// provisioning timeout. When autoStart is set and the target is unreachable,
// a static file server over serveDir is provisioned on a loopback port and
// its URL returned. The returned stop function shuts the server down; no
// server process outlives the comparison run.
func (e *Engine) ensureTarget(ctx context.Context, targetURL string, autoStart bool, serveDir string) (string, func(), error) {
	noop := func() {}

	if targetURL != "" && reachable(ctx, targetURL, 2*time.Second) {
		return targetURL, noop, nil
	}
	if !autoStart {
		if targetURL == "" {
			return "", noop, fault.Validationf("generated site url is required when auto-start is disabled")
		}
		return "", noop, fmt.Errorf("%w: render target %s not reachable", fault.ErrExternalUnavailable, targetURL)
	}
	if serveDir == "" {
		return "", noop, fault.Validationf("no directory to serve for auto-started render target")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", noop, fmt.Errorf("%w: listen: %v", fault.ErrExternalUnavailable, err)
	}

	srv := &http.Server{Handler: http.FileServer(http.Dir(serveDir))}
	go func() { _ = srv.Serve(ln) }()

	stop := func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}

	url := fmt.Sprintf("http://%s", ln.Addr().String())
	if !waitReachable(ctx, url, e.provisionTimeout) {
		stop()
		return "", noop, fmt.Errorf("%w: auto-started render target did not become reachable within %s",
			fault.ErrExternalUnavailable, e.provisionTimeout)
	}

	e.log.Info().Str("url", url).Str("dir", serveDir).Msg("compare: auto-started render target")
	return url, stop, nil
}

func reachable(ctx context.Context, url string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func waitReachable(ctx context.Context, url string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if reachable(ctx, url, time.Second) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

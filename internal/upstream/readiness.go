package upstream

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// WaitForService polls the health endpoint once per ProbeInterval until it
// answers 200, making at most maxWait attempts.
func (c *Client) WaitForService(ctx context.Context, maxWait int) bool {
	log.Printf("INFO: Waiting for service to be ready at %s...", c.HealthURL())

	if maxWait <= 0 {
		log.Printf("ERROR: Service failed to start within timeout period")
		return false
	}

	attempt := 0
	probe := func() error {
		attempt++
		err := c.probe(ctx)
		if err != nil && c.Verbose {
			log.Printf("DEBUG: Service not ready yet (attempt %d/%d): %v", attempt, maxWait, err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.ProbeInterval), uint64(maxWait-1)),
		ctx,
	)
	if err := backoff.Retry(probe, policy); err != nil {
		log.Printf("ERROR: Service failed to start within timeout period")
		return false
	}

	log.Printf("INFO: Service is ready!")
	return true
}

func (c *Client) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.HealthTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, c.HealthURL(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/yungbote/neurobridge-backend/internal/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobs/jobresults"
	"github.com/yungbote/neurobridge-backend/internal/jobs/rules"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// rulesJobPayload is the opaque payload a rules job carries: a single
// observed event a browser worker reported, already persisted via
// POST /api/events/bulk, handed here for evaluation. Concrete rule
// semantics are out of scope; this handler only owns the dedupe/allowlist
// contract the rules evaluator leans on.
type rulesJobPayload struct {
	SiteID    string `json:"site_id"`
	RuleID    string `json:"rule_id"`
	Domain    string `json:"domain"`
	Signature string `json:"signature"`
	Alert     json.RawMessage `json:"alert"`
}

// newRulesHandler evaluates one rules job: skip silently if the observed
// domain isn't allowlisted, else dedupe on (site, rule, signature) and, on
// the first occurrence within the TTL window, enqueue an alert job carrying
// the same payload for the alert runner to dispatch.
func newRulesHandler(allowlist *rules.AllowlistChecker, deduper rules.Deduper, jobSvc *jobs.Service, log *logger.Logger) jobs.HandlerFunc {
	log = log.With("handler", "rules")
	return func(ctx context.Context, job jobs.Job) error {
		var payload rulesJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("rules handler: decode payload: %w", err)
		}

		if payload.Domain != "" {
			allowed, err := allowlist.IsAllowed(ctx, payload.Domain)
			if err != nil {
				return fmt.Errorf("rules handler: allowlist check: %w", err)
			}
			if !allowed {
				log.Debug("domain not allowlisted, skipping", "domain", payload.Domain)
				return nil
			}
		}

		fingerprint := payload.SiteID + ":" + payload.RuleID + ":" + payload.Signature
		shouldAlert, err := deduper.ShouldAlert(ctx, fingerprint)
		if err != nil {
			return fmt.Errorf("rules handler: dedupe check: %w", err)
		}
		if !shouldAlert {
			log.Debug("duplicate within dedupe window, skipping", "fingerprint", fingerprint)
			return nil
		}

		alertPayload := payload.Alert
		if len(alertPayload) == 0 {
			alertPayload = json.RawMessage(`{}`)
		}
		_, err = jobSvc.Create(ctx, jobs.CreateJobRequest{
			Type:      jobs.TypeAlert,
			Payload:   alertPayload,
			SiteID:    job.SiteID,
			SessionID: job.SessionID,
		})
		if err != nil {
			return fmt.Errorf("rules handler: enqueue alert job: %w", err)
		}
		return nil
	}
}

// alertJobPayload carries the external sink to dispatch to and the body to
// deliver, populated by newRulesHandler (or directly by a caller) above.
type alertJobPayload struct {
	WebhookURL string          `json:"webhook_url"`
	Body       json.RawMessage `json:"body"`
}

// newAlertHandler POSTs the alert body to the external HTTP sink named in
// the payload and records the outcome in the JobResult audit trail. A
// non-2xx response or transport error fails the job (subject to the
// runner's retry rule).
func newAlertHandler(httpClient *http.Client, results *jobresults.Store, log *logger.Logger) jobs.HandlerFunc {
	log = log.With("handler", "alert")
	return func(ctx context.Context, job jobs.Job) error {
		var payload alertJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("alert handler: decode payload: %w", err)
		}
		if payload.WebhookURL == "" {
			return fmt.Errorf("alert handler: payload missing webhook_url")
		}

		body := payload.Body
		if len(body) == 0 {
			body = json.RawMessage(`{}`)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("alert handler: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		detail := map[string]any{"webhook_url": payload.WebhookURL}
		if err != nil {
			detail["error"] = err.Error()
			_ = writeResult(ctx, results, job, "failed", detail)
			return fmt.Errorf("alert handler: deliver: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		detail["status_code"] = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_ = writeResult(ctx, results, job, "failed", detail)
			return fmt.Errorf("alert handler: sink returned status %d", resp.StatusCode)
		}

		if err := writeResult(ctx, results, job, "delivered", detail); err != nil {
			log.Warn("failed to record alert delivery result", "error", err)
		}
		return nil
	}
}

func writeResult(ctx context.Context, results *jobresults.Store, job jobs.Job, status string, detail map[string]any) error {
	if results == nil {
		return nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return results.Upsert(ctx, jobresults.Result{
		JobID:   job.ID,
		Type:    string(job.Type),
		Status:  status,
		Attempt: job.RetryCount + 1,
		Detail:  b,
	})
}

// secretRefreshJobPayload names the secret to re-encrypt. The plaintext
// material is opaque to this handler: it arrives already fetched from
// whatever out-of-core secret source owns it, and this handler's only job
// is to re-seal it at rest with the current encryption key.
type secretRefreshJobPayload struct {
	SecretID  string `json:"secret_id"`
	Plaintext string `json:"plaintext"`
}

// newSecretRefreshHandler re-encrypts the secret's plaintext with
// nacl/secretbox under a key derived from the configured encryption
// passphrase, and records the resulting ciphertext length in the audit
// trail (the ciphertext itself is out of core's scope to persist; the
// out-of-core secret store owns durable storage).
func newSecretRefreshHandler(encryptionKey string, results *jobresults.Store, log *logger.Logger) jobs.HandlerFunc {
	log = log.With("handler", "secret_refresh")
	var key [32]byte
	copy(key[:], sha256Sum(encryptionKey))

	return func(ctx context.Context, job jobs.Job) error {
		var payload secretRefreshJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("secret refresh handler: decode payload: %w", err)
		}
		if payload.SecretID == "" {
			return fmt.Errorf("secret refresh handler: payload missing secret_id")
		}

		var nonce [24]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return fmt.Errorf("secret refresh handler: generate nonce: %w", err)
		}

		sealed := secretbox.Seal(nil, []byte(payload.Plaintext), &nonce, &key)

		log.Debug("secret resealed", "secret_id", payload.SecretID, "ciphertext_bytes", len(sealed))
		if err := writeResult(ctx, results, job, "refreshed", map[string]any{
			"secret_id":        payload.SecretID,
			"ciphertext_bytes": len(sealed),
		}); err != nil {
			log.Warn("failed to record secret refresh result", "error", err)
		}
		return nil
	}
}

func sha256Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

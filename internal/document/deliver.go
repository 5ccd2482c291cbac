package document

import (
	"context"
	"fmt"

	"github.com/gosimple/slug"
	"github.com/planforge/planforge/internal/metrics"
	"github.com/planforge/planforge/internal/providers/email"
	"github.com/planforge/planforge/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Messages over this size ship a link instead of an attachment.
const attachmentCeilingBytes = 10 << 20

type DeliveryResult struct {
	Stored     bool
	StorageURL string
	Notified   bool
	Warnings   []string
}

type DelivererParam struct {
	fx.In

	Stores  storage.Stores
	Email   email.Provider
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Deliverer struct {
	stores  storage.Stores
	email   email.Provider
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewDeliverer(p DelivererParam) *Deliverer {
	return &Deliverer{
		stores:  p.Stores,
		email:   p.Email,
		log:     p.Log.Named("document.deliverer"),
		metrics: p.Metrics,
	}
}

// Deliver persists the artifact (primary store, then fallback) and optionally
// notifies the recipient. Neither step failing fails the delivery: content
// generation success is independent of storage and notification success, and
// failures surface as warnings.
func (d *Deliverer) Deliver(ctx context.Context, artifact *Artifact, meta Meta, recipient string, notify bool) DeliveryResult {
	var result DeliveryResult

	key := artifactKey(meta)
	url, err := d.store(ctx, key, artifact)
	if err != nil {
		d.log.Error("document storage failed on all stores",
			zap.String("key", key),
			zap.Error(err),
		)
		if d.metrics != nil {
			d.metrics.DeliveryDegraded.WithLabelValues("storage").Inc()
		}
		result.Warnings = append(result.Warnings, "document storage failed; your content is included in this response")
	} else {
		result.Stored = true
		result.StorageURL = url
	}

	if recipient == "" || !notify {
		return result
	}

	if err := d.notify(ctx, artifact, meta, recipient, result.StorageURL); err != nil {
		d.log.Error("delivery notification failed",
			zap.String("key", key),
			zap.Error(err),
		)
		if d.metrics != nil {
			d.metrics.DeliveryDegraded.WithLabelValues("notification").Inc()
		}
		result.Warnings = append(result.Warnings, "delivery email could not be sent")
		return result
	}

	result.Notified = true
	return result
}

func (d *Deliverer) store(ctx context.Context, key string, artifact *Artifact) (string, error) {
	url, primaryErr := d.stores.Primary.Put(ctx, key, artifact.Bytes, "application/pdf")
	if primaryErr == nil {
		return url, nil
	}

	d.log.Warn("primary store failed, trying fallback",
		zap.String("store", d.stores.Primary.Name()),
		zap.Error(primaryErr),
	)

	url, fallbackErr := d.stores.Fallback.Put(ctx, key, artifact.Bytes, "application/pdf")
	if fallbackErr == nil {
		return url, nil
	}
	return "", fmt.Errorf("primary: %w; fallback: %v", primaryErr, fallbackErr)
}

func (d *Deliverer) notify(ctx context.Context, artifact *Artifact, meta Meta, recipient, storageURL string) error {
	subject := meta.Title + " is ready"
	body := fmt.Sprintf(
		"<p>Hi%s,</p><p>Your <strong>%s</strong> is ready.</p>",
		salutation(meta.PersonalizedFor),
		meta.Title,
	)

	if artifact.SizeBytes <= attachmentCeilingBytes {
		body += "<p>Your document is attached to this email.</p>"
		return d.email.Send(ctx, []string{recipient}, subject, body, email.Attachment{
			Filename:    slug.Make(meta.Title) + ".pdf",
			ContentType: "application/pdf",
			Data:        artifact.Bytes,
		})
	}

	if storageURL != "" {
		body += fmt.Sprintf("<p>Download your document: <a href=%q>%s</a></p>", storageURL, storageURL)
	}
	return d.email.Send(ctx, []string{recipient}, subject, body)
}

func artifactKey(meta Meta) string {
	name := slug.Make(meta.Title)
	if meta.PersonalizedFor != "" {
		name = name + "-" + slug.Make(meta.PersonalizedFor)
	}
	return fmt.Sprintf("deliverables/%s/%d.pdf", name, meta.GeneratedAt.UTC().Unix())
}

func salutation(name string) string {
	if name == "" {
		return ""
	}
	return " " + name
}

var Module = fx.Module("document",
	fx.Provide(NewDeliverer),
)

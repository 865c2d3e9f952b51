package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/consent"
)

// Consent mode values.
const (
	Granted = "granted"
	Denied  = "denied"
)

// ConsentNotifier pushes consent changes to the analytics sink and the
// advertising pixel. It implements consent.Notifier.
type ConsentNotifier struct {
	sink   Sink
	pixel  Pixel
	logger *zap.Logger
}

// NewConsentNotifier constructs a ConsentNotifier. Either capability may be nil.
func NewConsentNotifier(sink Sink, pixel Pixel, logger *zap.Logger) *ConsentNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsentNotifier{sink: sink, pixel: pixel, logger: logger}
}

func mode(granted bool) string {
	if granted {
		return Granted
	}
	return Denied
}

// ConsentState is the consent-mode payload for prefs.
func ConsentState(prefs consent.Preferences) map[string]any {
	return map[string]any{
		"analytics_storage":  mode(prefs.Analytics),
		"ad_storage":         mode(prefs.Marketing),
		"ad_user_data":       mode(prefs.Marketing),
		"ad_personalization": mode(prefs.Marketing),
	}
}

// ApplyConsent sends a consent update and grants or revokes the pixel.
func (n *ConsentNotifier) ApplyConsent(ctx context.Context, prefs consent.Preferences) {
	n.send(ctx, "update", ConsentState(prefs))
	n.applyPixel(ctx, prefs.Marketing)
}

// Bootstrap runs once per page load: every category starts denied, then the
// stored decision, if any, is replayed.
func (n *ConsentNotifier) Bootstrap(ctx context.Context, reader ConsentReader) {
	n.send(ctx, "default", ConsentState(consent.AllDenied))
	if reader == nil {
		n.applyPixel(ctx, false)
		return
	}
	prefs, ok := reader.Preferences(ctx)
	if !ok {
		n.applyPixel(ctx, false)
		return
	}
	n.ApplyConsent(ctx, prefs)
}

func (n *ConsentNotifier) send(ctx context.Context, name string, state map[string]any) {
	if !SinkAvailable(n.sink) {
		n.logger.Debug("analytics sink unavailable, skipping consent command", zap.String("name", name))
		return
	}
	if err := n.sink.Send(ctx, CommandConsent, name, state); err != nil {
		n.logger.Warn("analytics sink rejected consent command", zap.String("name", name), zap.Error(err))
	}
}

func (n *ConsentNotifier) applyPixel(ctx context.Context, granted bool) {
	if n.pixel == nil {
		return
	}
	var err error
	if granted {
		err = n.pixel.Grant(ctx)
	} else {
		err = n.pixel.Revoke(ctx)
	}
	if err != nil {
		n.logger.Warn("advertising pixel rejected consent", zap.Bool("granted", granted), zap.Error(err))
	}
}

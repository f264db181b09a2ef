package autoreply

import "github.com/Linggaept/backend-waspread-sub001/internal/model"

// AI features charged by the pipeline.
const (
	FeatureText  = "auto_reply_text"
	FeatureImage = "auto_reply_image"
)

// Pricing estimates the AI cost of one reply before it is generated.
type Pricing interface {
	EstimateCost(settings *model.AutoReplySettings, hasMedia bool) float64
}

// ConfigPricing charges the configured unit prices unless the tenant overrides them.
type ConfigPricing struct {
	Text  float64
	Image float64
}

var _ Pricing = ConfigPricing{}

func (p ConfigPricing) EstimateCost(settings *model.AutoReplySettings, hasMedia bool) float64 {
	if hasMedia {
		if settings != nil && settings.ImageCost != nil {
			return *settings.ImageCost
		}
		return p.Image
	}
	if settings != nil && settings.TextCost != nil {
		return *settings.TextCost
	}
	return p.Text
}

func feature(hasMedia bool) string {
	if hasMedia {
		return FeatureImage
	}
	return FeatureText
}

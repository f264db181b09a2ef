package funnel

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// Fallback tables used when neither the tenant nor the config provides a list.
var (
	defaultClosedWon   = []string{"sudah transfer", "sudah bayar", "sudah tf", "jadi order", "deal"}
	defaultClosedLost  = []string{"tidak tertarik", "gak minat", "ga minat", "tidak minat", "unsubscribe", "berhenti"}
	defaultNegotiating = []string{"nego", "diskon", "bisa kurang", "harga pas", "potongan"}
	defaultInterested  = []string{"berapa", "harga", "minat", "tertarik", "info", "pricelist"}
)

// keywordSet is one stage's keyword list, checked in table order. Keywords of a wholeWord
// set only match complete words, so "deal" does not fire on "ideal".
type keywordSet struct {
	stage     model.Stage
	keywords  []string
	wholeWord bool
}

// KeywordTable is the ordered set of keyword lists used for stage detection.
type KeywordTable []keywordSet

func pick(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

func newKeywordTable(tenant *model.FunnelSettings, cfg config.KeywordConfig) KeywordTable {
	var t model.FunnelSettings
	if tenant != nil {
		t = *tenant
	}
	return KeywordTable{
		{model.StageClosedWon, pick(t.ClosedWonKeywords, cfg.ClosedWon, defaultClosedWon), true},
		{model.StageClosedLost, pick(t.ClosedLostKeywords, cfg.ClosedLost, defaultClosedLost), true},
		{model.StageNegotiating, pick(t.NegotiatingKeywords, cfg.Negotiating, defaultNegotiating), false},
		{model.StageInterested, pick(t.InterestedKeywords, cfg.Interested, defaultInterested), false},
	}
}

// words lowercases s and joins its letter and digit runs with single spaces, padded on
// both ends.
func words(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

// Match returns the stage of the first keyword set with a keyword found in text.
func (t KeywordTable) Match(text string) (model.Stage, string, bool) {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return "", "", false
	}
	padded := words(text)
	for _, set := range t {
		for _, kw := range set.keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if set.wholeWord {
				if w := words(kw); w != "  " && strings.Contains(padded, w) {
					return set.stage, kw, true
				}
				continue
			}
			if strings.Contains(text, kw) {
				return set.stage, kw, true
			}
		}
	}
	return "", "", false
}

// keywordsFor loads the tenant's table. A settings read failure falls back to the defaults.
func (s *Service) keywordsFor(ctx context.Context, tenantID string) KeywordTable {
	settings, err := s.settings.GetFunnelSettings(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logger.FromContextOr(ctx, s.logger).Warn("Failed to load funnel settings, using defaults",
				zap.String("tenant_id", tenantID), zap.Error(err))
		}
		settings = nil
	}
	return newKeywordTable(settings, s.cfg.Keywords)
}

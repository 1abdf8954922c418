package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/skeptomenos/prism/internal/domain"
	"github.com/skeptomenos/prism/internal/localcache"
	"github.com/skeptomenos/prism/internal/normalize"
	"github.com/skeptomenos/prism/internal/scoring"
)

// resolveExternal runs the external provider cascade. Every provider
// failure is soft: logged, counted, and the next provider tried. Only
// after all providers come up empty is the holding negative-cached.
func (r *Resolver) resolveExternal(ctx context.Context, h domain.RawHolding, ticker, name string, tickerVariants, nameVariants []string) domain.ResolutionResult {
	primary := ticker
	if len(tickerVariants) > 0 {
		primary = tickerVariants[0]
	}

	if primary != "" {
		negative, err := r.cache.IsNegativeCached(primary, string(domain.AliasTicker))
		if err != nil {
			r.log.Warn().Err(err).Str("ticker", primary).Msg("Negative cache check failed")
		}
		if negative {
			return domain.ResolutionResult{
				Source: domain.SourceUnresolved,
				Detail: "negative_cached",
			}
		}
	}

	rateLimited := false

	for _, p := range r.providers {
		for _, try := range r.attemptsFor(p.Name(), ticker, primary, tickerVariants) {
			hit, err := p.Lookup(ctx, try, name)

			r.logAttempt(ticker, try, p.Name(), hit != nil)

			if err != nil {
				if errors.Is(err, domain.ErrRateLimited) {
					r.log.Debug().Str("provider", p.Name()).Str("ticker", try).Msg("Provider rate limited")
					rateLimited = true
					break
				}
				r.log.Debug().Err(err).Str("provider", p.Name()).Str("ticker", try).Msg("Provider lookup failed")
				continue
			}
			if hit == nil {
				continue
			}

			res := r.acceptHit(ctx, hit, p.Name(), try, ticker, name)
			return res
		}
	}

	if primary != "" {
		status := localcache.MemoUnresolved
		ttl := localcache.NegativeTTLUnresolved
		if rateLimited {
			status = localcache.MemoRateLimited
			ttl = localcache.NegativeTTLRateLimited
		}
		if err := r.cache.SetMemo(localcache.Memo{
			Alias:     primary,
			AliasType: string(domain.AliasTicker),
			Status:    status,
		}, ttl); err != nil {
			r.log.Warn().Err(err).Str("ticker", primary).Msg("Failed to negative-cache")
		}
	}

	return domain.ResolutionResult{
		Source: domain.SourceUnresolved,
		Detail: "api_all_failed",
	}
}

// attemptsFor picks which ticker renderings a provider gets to see.
// Wikidata matches on names so one call suffices; Yahoo is unreliable
// enough that only the two most likely variants are worth the quota.
func (r *Resolver) attemptsFor(provider, raw, primary string, variants []string) []string {
	switch provider {
	case string(domain.SourceWikidata):
		return []string{primary}
	case string(domain.SourceOpenFIGI):
		if raw != "" {
			return []string{raw}
		}
		return []string{primary}
	case string(domain.SourceYFinance):
		if len(variants) > 2 {
			return variants[:2]
		}
		if len(variants) > 0 {
			return variants
		}
		return []string{primary}
	default:
		return []string{primary}
	}
}

// acceptHit turns a provider hit into a result, persists the memo, and
// kicks off the community write-back.
func (r *Resolver) acceptHit(ctx context.Context, hit *domain.ProviderHit, provider, tried, ticker, name string) domain.ResolutionResult {
	source := domain.Source(provider)

	res := domain.ResolutionResult{
		ISIN:       hit.ISIN,
		Confidence: scoring.TierConfidence(source),
		Source:     source,
		Detail:     "api_" + provider,
	}
	if hit.Currency != "" {
		res.Currency = hit.Currency
		res.CurrencySource = domain.CurrencyExplicit
	}

	if err := r.cache.SetMemo(localcache.Memo{
		Alias:      tried,
		AliasType:  string(domain.AliasTicker),
		ISIN:       hit.ISIN,
		Status:     localcache.MemoResolved,
		Confidence: res.Confidence,
		Source:     provider,
	}, 0); err != nil {
		r.log.Warn().Err(err).Str("ticker", tried).Msg("Failed to memoize resolution")
	}

	r.enrichmentSet(ticker, name, res)
	r.contributor.Contribute(ctx, res, ticker, name)

	r.log.Debug().
		Str("ticker", ticker).
		Str("isin", hit.ISIN).
		Str("provider", provider).
		Msg("Resolved via external API")

	return res
}

// logAttempt records format telemetry for ticker-driven providers.
func (r *Resolver) logAttempt(input, tried, provider string, success bool) {
	if provider == string(domain.SourceWikidata) {
		return // name-driven, ticker format is irrelevant
	}
	if strings.TrimSpace(tried) == "" {
		return
	}

	if err := r.cache.LogFormatAttempt(input, tried, normalize.DetectFormat(tried), "api_"+provider, success, ""); err != nil {
		r.log.Debug().Err(err).Msg("Failed to log format attempt")
	}
}

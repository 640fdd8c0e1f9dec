package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ofdeals/finder/internal/models"
)

var (
	ErrUnrecognizedOffer = errors.New("unrecognized offer label")
	ErrMalformedLabel    = errors.New("malformed price label")
	ErrPriceParse        = errors.New("no numeric price in token")
)

var (
	dayWindowPattern = regexp.MustCompile(`\b\d+\s+DAYS?\b`)
	numericPattern   = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// Classify determines the offer kind of a raw price label and returns the
// token the price must be extracted from. Zero-priced kinds return an
// empty token. Matching is case-insensitive and tried in priority order:
// subscribed language can co-occur with other keywords, so it wins first;
// the day-bounded discount pattern is guarded against free-trial phrasing.
func Classify(raw string) (models.OfferKind, string, error) {
	upper := strings.ToUpper(raw)

	var kind models.OfferKind
	switch {
	case strings.Contains(upper, "RENEW") || strings.Contains(upper, "SUBSCRIBED"):
		kind = models.OfferSubscribed
	case strings.Contains(upper, "FREE FOR"):
		kind = models.OfferFreeTrial
	case dayWindowPattern.MatchString(upper) && !strings.Contains(upper, "FREE"):
		kind = models.OfferDiscount
	case strings.Contains(upper, "FOR FREE"):
		kind = models.OfferFree
	case strings.Contains(upper, "PER MONTH"):
		kind = models.OfferNone
	default:
		return models.OfferUnknown, "", fmt.Errorf("%w: %q", ErrUnrecognizedOffer, raw)
	}

	token, err := priceToken(raw, kind)
	if err != nil {
		return models.OfferUnknown, "", err
	}
	return kind, token, nil
}

// priceToken picks the price-bearing token out of the whitespace-split
// label. The positions mirror the upstream label grammar: plain recurring
// prices carry the amount as the second token, day-bounded discounts as
// the fourth-from-last.
func priceToken(raw string, kind models.OfferKind) (string, error) {
	if kind.ZeroPriced() {
		return "", nil
	}

	fields := strings.Fields(raw)
	switch kind {
	case models.OfferNone:
		if len(fields) < 2 {
			return "", fmt.Errorf("%w: %q needs at least 2 tokens", ErrMalformedLabel, raw)
		}
		return fields[1], nil
	case models.OfferDiscount:
		if len(fields) < 4 {
			return "", fmt.Errorf("%w: %q needs at least 4 tokens", ErrMalformedLabel, raw)
		}
		return fields[len(fields)-4], nil
	default:
		return "", fmt.Errorf("%w: no price position for %s", ErrMalformedLabel, kind)
	}
}

// NormalizePrice turns a currency-prefixed token into a decimal amount.
// Zero-priced offer kinds always normalize to 0 regardless of the token.
func NormalizePrice(token string, kind models.OfferKind) (float64, error) {
	if kind.ZeroPriced() {
		return 0, nil
	}

	match := numericPattern.FindString(token)
	if match == "" {
		return 0, fmt.Errorf("%w: %q", ErrPriceParse, token)
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrPriceParse, token)
	}
	return value, nil
}

// SubscriptionState derives the operator's subscription relationship from
// the first token of the label. Unrecognized leads never fail; the caller
// records the profile with an unknown state.
func SubscriptionState(raw string) models.SubscriptionState {
	fields := strings.Fields(strings.ToUpper(raw))
	if len(fields) == 0 {
		return models.StateUnknown
	}

	switch first := fields[0]; {
	case first == "SUBSCRIBE":
		return models.StateNotSubscribed
	case first == "SUBSCRIBED" || first == "RENEW":
		return models.StateSubscribed
	case strings.HasPrefix(first, "SUBSCRIBEDFOR"):
		// The site sometimes renders "SUBSCRIBED FOR ..." without the space.
		return models.StateSubscribed
	default:
		return models.StateUnknown
	}
}

// Normalize runs the full label pipeline over one raw profile record. A
// record with no price label stays recordable: the profile is present in
// the list even when its price affordance never rendered.
func Normalize(rec models.RawProfile) (models.OfferKind, *float64, models.SubscriptionState, error) {
	if strings.TrimSpace(rec.PriceLabel) == "" {
		return models.OfferUnknown, nil, models.StateUnknown, nil
	}

	kind, token, err := Classify(rec.PriceLabel)
	if err != nil {
		return models.OfferUnknown, nil, models.StateUnknown, err
	}

	price, err := NormalizePrice(token, kind)
	if err != nil {
		return models.OfferUnknown, nil, models.StateUnknown, err
	}

	return kind, &price, SubscriptionState(rec.PriceLabel), nil
}

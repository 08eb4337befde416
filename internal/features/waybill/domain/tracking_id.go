package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Carrier is a registered carrier code. The set is closed: adding a
// carrier means adding an adapter, a number pattern and a constant here.
type Carrier string

const (
	// CarrierSFEx is the SF Express style carrier.
	CarrierSFEx Carrier = "sfex"
	// CarrierEMSPost is the UPU postal style carrier.
	CarrierEMSPost Carrier = "emspost"
)

// carrierNumPatterns holds the per-carrier tracking number formats.
var carrierNumPatterns = map[Carrier]*regexp.Regexp{
	CarrierSFEx:    regexp.MustCompile(`^SF\d{10,14}$`),
	CarrierEMSPost: regexp.MustCompile(`^[A-Z]{2}\d{9}[A-Z]{2}$`),
}

// Carriers returns the registered carrier set.
func Carriers() []Carrier {
	return []Carrier{CarrierSFEx, CarrierEMSPost}
}

// TrackingID is the parsed form of the public tracking slug
// "<carrier>-<trackingNumber>".
type TrackingID struct {
	// Carrier is the registered carrier code.
	Carrier Carrier
	// TrackingNum is the carrier-native tracking number.
	TrackingNum string
}

// ParseTrackingID validates a tracking slug and splits it into its parts.
// It fails with ErrMissingSlug on an empty slug, ErrMalformedSlug when no
// hyphen exists or the carrier segment is empty, ErrUnknownCarrier for an
// unregistered carrier and ErrBadTrackingNum when the number does not
// match the carrier's format.
func ParseTrackingID(slug string) (TrackingID, error) {
	if slug == "" {
		return TrackingID{}, ErrMissingSlug
	}

	carrierPart, numPart, found := strings.Cut(slug, "-")
	if !found || carrierPart == "" {
		return TrackingID{}, fmt.Errorf("%w: %q", ErrMalformedSlug, slug)
	}

	pattern, ok := carrierNumPatterns[Carrier(carrierPart)]
	if !ok {
		return TrackingID{}, fmt.Errorf("%w: %q", ErrUnknownCarrier, carrierPart)
	}

	if !pattern.MatchString(numPart) {
		return TrackingID{}, fmt.Errorf("%w: %q", ErrBadTrackingNum, numPart)
	}

	return TrackingID{Carrier: Carrier(carrierPart), TrackingNum: numPart}, nil
}

// String rebuilds the canonical slug. It is used both as the Entity id
// and as the storage key.
func (t TrackingID) String() string {
	return string(t.Carrier) + "-" + t.TrackingNum
}

package resample

// Quality selects the anti-aliasing filter profile.
type Quality int

const (
	// QualityFast prioritizes lower CPU usage.
	QualityFast Quality = iota
	// QualityBalanced is the default.
	QualityBalanced
	// QualityBest prioritizes stopband attenuation and passband flatness.
	QualityBest
)

func (q Quality) String() string {
	switch q {
	case QualityFast:
		return "fast"
	case QualityBest:
		return "best"
	default:
		return "balanced"
	}
}

// Profile holds the filter parameters of a quality mode.
type Profile struct {
	TapsPerPhase      int
	CutoffScale       float64
	KaiserBeta        float64
	NominalStopbandDB float64
}

// QualityProfile returns the default profile of q.
func QualityProfile(q Quality) Profile {
	switch q {
	case QualityFast:
		return Profile{TapsPerPhase: 16, CutoffScale: 0.88, KaiserBeta: 5.0, NominalStopbandDB: 55}
	case QualityBest:
		return Profile{TapsPerPhase: 64, CutoffScale: 0.96, KaiserBeta: 9.0, NominalStopbandDB: 90}
	default:
		return Profile{TapsPerPhase: 32, CutoffScale: 0.92, KaiserBeta: 7.5, NominalStopbandDB: 75}
	}
}

type options struct {
	quality     Quality
	profile     Profile
	maxDen      int
	reserve     int
	overrideTap int
}

// Option configures a Resampler.
type Option func(*options)

// WithQuality selects a predefined quality mode.
func WithQuality(q Quality) Option {
	return func(o *options) { o.quality = q }
}

// WithTapsPerPhase overrides the taps per polyphase branch.
func WithTapsPerPhase(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.overrideTap = n
		}
	}
}

// WithMaxDenominator caps the denominator used when approximating a rate
// ratio.
func WithMaxDenominator(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDen = n
		}
	}
}

// WithBlockSize reserves scratch space for input blocks of up to n samples.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.reserve = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{quality: QualityBalanced, maxDen: 4096}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.profile = QualityProfile(o.quality)
	if o.overrideTap > 0 {
		o.profile.TapsPerPhase = o.overrideTap
	}
	return o
}

package geocode

import (
	"context"
	"strings"
	"time"

	"github.com/signalsfoundry/drone-formation-sim/internal/logging"
	"github.com/signalsfoundry/drone-formation-sim/model"
)

// Resolution is the outcome of resolving an address. Fallback is true when
// Point is the fallback center rather than a geocoded location.
type Resolution struct {
	Point    model.GeoPoint
	Address  string
	Fallback bool
}

// Recorder receives one observation per resolution.
type Recorder interface {
	ObserveGeocode(fallback bool)
}

// Resolver wraps a Geocoder with a fallback center.
type Resolver struct {
	geocoder Geocoder
	fallback model.GeoPoint
	timeout  time.Duration
	log      logging.Logger
	recorder Recorder
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithFallback overrides the point used when resolution fails.
func WithFallback(p model.GeoPoint) ResolverOption {
	return func(r *Resolver) { r.fallback = p }
}

// WithTimeout bounds each geocoder call.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) ResolverOption {
	return func(r *Resolver) { r.recorder = rec }
}

// NewResolver returns a Resolver over g. A nil g always falls back.
func NewResolver(g Geocoder, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		geocoder: g,
		fallback: model.DefaultCenter,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fallback returns the point used when resolution fails.
func (r *Resolver) Fallback() model.GeoPoint { return r.fallback }

// Resolve geocodes address. It never fails: a blank address, a geocoder
// error, or an unusable coordinate all yield the fallback center.
func (r *Resolver) Resolve(ctx context.Context, address string) Resolution {
	address = strings.TrimSpace(address)
	res := r.resolve(ctx, address)
	if r.recorder != nil {
		r.recorder.ObserveGeocode(res.Fallback)
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, address string) Resolution {
	fallback := Resolution{Point: r.fallback, Address: address, Fallback: true}
	if address == "" || r.geocoder == nil {
		r.log.Info(ctx, "no address to geocode; using fallback center",
			logging.String("center", r.fallback.String()))
		return fallback
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	p, err := r.geocoder.Geocode(ctx, address)
	if err == nil && !p.Valid() {
		err = ErrInvalidResponse
	}
	if err != nil {
		r.log.Warn(ctx, "geocoding failed; using fallback center",
			logging.String("address", address),
			logging.String("center", r.fallback.String()),
			logging.Err(err),
		)
		return fallback
	}

	r.log.Debug(ctx, "address geocoded",
		logging.String("address", address),
		logging.Float64("latitude", p.Latitude),
		logging.Float64("longitude", p.Longitude),
	)
	return Resolution{Point: p, Address: address}
}

// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// BruteForceDetector counts failed logins per identity.
type BruteForceDetector struct {
	windows    *WindowCounter
	thresholds Thresholds
}

// Name implements Detector.
func (d *BruteForceDetector) Name() Name { return DetectorBruteForce }

// Kinds implements Detector.
func (d *BruteForceDetector) Kinds() []SignalKind { return []SignalKind{SignalLoginAttempt} }

// Check implements Detector. Successful attempts are ignored. A
// failed_logins counter on the signal replaces the window count.
func (d *BruteForceDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	if sig.Bool("success") {
		return nil, nil
	}
	identity := sig.Identity()
	if identity == "" {
		return nil, nil
	}

	window := d.thresholds.BruteForceWindow
	n, ok := sig.Counter(CounterFailedLogins)
	if !ok {
		ev := WindowEvent{ID: sig.ID, At: sig.Timestamp}
		if err := d.windows.Record(ctx, streamLoginFailures, identity, ev, window); err != nil {
			return nil, fmt.Errorf("record login failure: %w", err)
		}
		var err error
		n, err = d.windows.Count(ctx, streamLoginFailures, identity, sig.Timestamp.Add(-window), sig.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("count login failures: %w", err)
		}
	}

	var sev models.Severity
	switch {
	case n >= d.thresholds.BruteForceCritical:
		sev = models.SeverityCritical
	case n >= d.thresholds.BruteForceWarning:
		sev = models.SeverityWarning
	default:
		return nil, nil
	}

	resource := sig.Attr("resource")
	if resource == "" {
		resource = "login"
	}
	ac := sig.alertContext(resource, int64(n))
	ac.Extra["window"] = window.String()
	return newPayload(d.Name(), sig, models.AlertTypeBruteForce, sev, "Brute force attack detected", ac), nil
}

// geoLocation is one login location kept in a geo profile.
type geoLocation struct {
	IP        string    `json:"ip"`
	Country   string    `json:"country"`
	City      string    `json:"city,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	HasCoords bool      `json:"has_coords"`
	At        time.Time `json:"at"`
}

// geoProfile is the login history of one user.
type geoProfile struct {
	UserID         string        `json:"user_id"`
	KnownCountries []string      `json:"known_countries"`
	KnownIPs       []string      `json:"known_ips"`
	LastLocations  []geoLocation `json:"last_locations"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// LocationDetector flags impossible travel and logins from a new country
// through a VPN, or through Tor. A user's first login only creates the profile.
type LocationDetector struct {
	store      *store.Store
	thresholds Thresholds
}

// Name implements Detector.
func (d *LocationDetector) Name() Name { return DetectorUnusualLocation }

// Kinds implements Detector.
func (d *LocationDetector) Kinds() []SignalKind { return []SignalKind{SignalLogin} }

type locationVerdict struct {
	first           bool
	replay          bool
	newCountry      bool
	impossible      bool
	distanceKm      float64
	speedKmH        float64
	previousCountry string
}

// Check implements Detector.
func (d *LocationDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	country := sig.Attr("country")
	if sig.UserID == "" || country == "" {
		return nil, nil
	}

	loc := geoLocation{IP: sig.IP, Country: country, City: sig.Attr("city"), At: sig.Timestamp}
	lat, okLat := sig.Float("latitude")
	lon, okLon := sig.Float("longitude")
	if okLat && okLon {
		loc.Latitude, loc.Longitude, loc.HasCoords = lat, lon, true
	}
	upstreamKm, hasUpstream := sig.Float("distance_km")

	var v locationVerdict
	err := updateProfile(ctx, d.store, "geo", sig.UserID, func(p *geoProfile) (*geoProfile, error) {
		v = locationVerdict{}
		if p == nil {
			v.first = true
			return &geoProfile{
				UserID:         sig.UserID,
				KnownCountries: []string{country},
				KnownIPs:       nonEmpty(sig.IP),
				LastLocations:  []geoLocation{loc},
				CreatedAt:      sig.Timestamp,
				UpdatedAt:      sig.Timestamp,
			}, nil
		}

		if n := len(p.LastLocations); n > 0 {
			last := p.LastLocations[n-1]
			if last.At.Equal(sig.Timestamp) && last.IP == sig.IP {
				v.replay = true
				return nil, nil
			}
		}

		v.newCountry = !contains(p.KnownCountries, country)
		if n := len(p.LastLocations); n > 0 {
			last := p.LastLocations[n-1]
			v.previousCountry = last.Country
			switch {
			case hasUpstream:
				v.distanceKm = upstreamKm
			case last.HasCoords && loc.HasCoords:
				v.distanceKm = haversineDistance(last.Latitude, last.Longitude, loc.Latitude, loc.Longitude)
			}
			if hours := sig.Timestamp.Sub(last.At).Hours(); hours > 0 && v.distanceKm > 0 {
				v.speedKmH = v.distanceKm / hours
				v.impossible = v.speedKmH > d.thresholds.MaxTravelSpeedKmH
			}
			// Out of order logins keep the history ordered.
			if !sig.Timestamp.After(last.At) {
				loc = geoLocation{}
			}
		}

		if !loc.At.IsZero() {
			p.LastLocations = appendBounded(p.LastLocations, loc, d.thresholds.GeoProfileLocations)
		}
		if v.newCountry {
			p.KnownCountries = append(p.KnownCountries, country)
		}
		if sig.IP != "" && !contains(p.KnownIPs, sig.IP) {
			p.KnownIPs = appendBounded(p.KnownIPs, sig.IP, d.thresholds.GeoProfileIPs)
		}
		p.UpdatedAt = sig.Timestamp
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update geo profile: %w", err)
	}
	if v.first || v.replay {
		return nil, nil
	}

	ac := sig.alertContext("login", 0)
	ac.Extra["country"] = country
	ac.Extra["countryName"] = firstNonEmpty(sig.Attr("country_name"), country)
	ac.Extra["city"] = sig.Attr("city")
	ac.Extra["previousCountry"] = firstNonEmpty(v.previousCountry, "Unknown")
	ac.Extra["distanceKm"] = math.Round(v.distanceKm)

	isTor := sig.Bool("is_tor")
	isVPN := sig.Bool("is_vpn")
	switch {
	case v.impossible:
		ac.Extra["speedKmh"] = math.Round(v.speedKmH)
		return newPayload(d.Name(), sig, models.AlertTypeImpossibleTravel, models.SeverityCritical, "Impossible travel detected", ac), nil
	case v.newCountry && isVPN, isTor:
		ac.Extra["isVPN"] = isVPN
		ac.Extra["isTor"] = isTor
		return newPayload(d.Name(), sig, models.AlertTypeUnusualLocation, models.SeverityWarning, "Login from unusual location", ac), nil
	}
	return nil, nil
}

func appendBounded[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package geoip extracts the real client address from proxy headers and
// maps it to an approximate location.
package geoip

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// DefaultIP is recorded when no address can be determined
const DefaultIP = "0.0.0.0"

// clientIPHeaders are inspected in priority order
var clientIPHeaders = []string{
	"X-Real-IP",
	"X-Forwarded-For",
	"CF-Connecting-IP",
	"True-Client-IP",
	"Fastly-Client-IP",
	"X-Client-IP",
	"X-Cluster-Client-IP",
}

// ClientIP returns the caller address from proxy headers, falling back to
// the socket address and finally DefaultIP.
func ClientIP(h http.Header, remoteAddr string) string {
	for _, name := range clientIPHeaders {
		value := h.Get(name)
		if value == "" {
			continue
		}
		// X-Forwarded-For is "client, proxy1, proxy2"
		for _, part := range strings.Split(value, ",") {
			if ip := normalize(part); ip != "" {
				return ip
			}
		}
	}

	if fwd := h.Get("Forwarded"); fwd != "" {
		if ip := parseForwarded(fwd); ip != "" {
			return ip
		}
	}

	if ip := normalize(remoteAddr); ip != "" {
		return ip
	}
	return DefaultIP
}

// parseForwarded reads the first for= directive of an RFC 7239 header
func parseForwarded(value string) string {
	for _, element := range strings.Split(value, ",") {
		for _, pair := range strings.Split(element, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(k, "for") {
				continue
			}
			v = strings.Trim(v, `"`)
			v = strings.TrimPrefix(v, "[")
			if i := strings.Index(v, "]"); i >= 0 {
				v = v[:i]
			}
			if ip := normalize(v); ip != "" {
				return ip
			}
		}
	}
	return ""
}

func normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return ""
	}
	return ip.String()
}

// Resolver maps addresses to locations using a MaxMind City database.
// A Resolver without a database returns no location.
type Resolver struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
}

// NewResolver opens the database at path. An empty path or an unreadable
// database yields a resolver that never finds a location.
func NewResolver(path string) *Resolver {
	r := &Resolver{}
	if path == "" {
		return r
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		logger.Warn("GeoIP database unavailable, locations will not be recorded", "path", path, "error", err)
		return r
	}
	r.reader = reader
	return r
}

// Lookup returns the location of ip, or nil when it cannot be resolved
func (r *Resolver) Lookup(ip string) *models.GeoLocation {
	if r == nil {
		return nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return nil
	}

	city, err := r.reader.City(parsed)
	if err != nil {
		logger.Debug("GeoIP lookup failed", "ip", ip, "error", err)
		return nil
	}
	if city.Country.IsoCode == "" && city.City.GeoNameID == 0 {
		return nil
	}

	geo := &models.GeoLocation{
		Country:     city.Country.Names["en"],
		CountryCode: city.Country.IsoCode,
		City:        city.City.Names["en"],
		Latitude:    city.Location.Latitude,
		Longitude:   city.Location.Longitude,
		Timezone:    city.Location.TimeZone,
	}
	if len(city.Subdivisions) > 0 {
		geo.Region = city.Subdivisions[0].Names["en"]
	}
	return geo
}

// Close releases the database
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

// Actor is the captured context of whoever triggered an event
type Actor struct {
	UserID    *string
	IPAddress string
	UserAgent string
}

// ActorFromRequest captures the client address and user agent of r
func ActorFromRequest(r *http.Request, userID string) Actor {
	a := Actor{
		IPAddress: ClientIP(r.Header, r.RemoteAddr),
		UserAgent: r.UserAgent(),
	}
	if userID != "" {
		a.UserID = &userID
	}
	return a
}

// System is the actor recorded for scheduled jobs and migrations
func System() Actor {
	return Actor{IPAddress: DefaultIP, UserAgent: "fintera-sign/system"}
}

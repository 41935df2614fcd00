// Package geoip resolves a device's connecting address to a coarse location.
package geoip

import (
	"log"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"mattone/internal/models"
)

// Resolver is safe for concurrent use. A Resolver without a database
// resolves nothing.
type Resolver struct {
	db *maxminddb.Reader
}

type cityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// NewResolver opens the MaxMind City database at dbPath. An empty or
// unreadable path yields a disabled resolver rather than an error, since
// location is informational only.
func NewResolver(dbPath string) *Resolver {
	if dbPath == "" {
		return &Resolver{}
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		log.Printf("geoip: failed to open %s: %v", dbPath, err)
		return &Resolver{}
	}
	log.Printf("geoip: loaded %s (build %d)", dbPath, db.Metadata.BuildEpoch)
	return &Resolver{db: db}
}

func (r *Resolver) Enabled() bool {
	return r.db != nil
}

func (r *Resolver) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Lookup returns nil for unparseable, non-public or unknown addresses.
func (r *Resolver) Lookup(addr string) *models.GeoResult {
	ip := net.ParseIP(addr)
	if ip == nil || r.db == nil || !isPublic(ip) {
		return nil
	}
	var rec cityRecord
	if err := r.db.Lookup(ip, &rec); err != nil {
		return nil
	}
	if rec.Country.ISOCode == "" && len(rec.City.Names) == 0 {
		return nil
	}
	return &models.GeoResult{
		IP:      ip.String(),
		Lat:     rec.Location.Latitude,
		Lng:     rec.Location.Longitude,
		City:    rec.City.Names["en"],
		Country: rec.Country.ISOCode,
	}
}

func isPublic(ip net.IP) bool {
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsMulticast())
}

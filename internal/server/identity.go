package server

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vesaa/airguard/internal/models"
)

// nodeIDLen is how many hex characters of the credential fingerprint form the
// node id. Collisions at this length are an accepted risk for realistic node
// counts; the fingerprint itself stays unique-indexed.
const nodeIDLen = 12

// nodeHints carries the optional identity fields a node may send alongside a
// payload.
type nodeHints struct {
	name      string
	latitude  *float64
	longitude *float64
}

// hintsFromBody extracts identity hints from a flat request body. Both the
// short and node_-prefixed field names are accepted.
func hintsFromBody(body map[string]any) nodeHints {
	var h nodeHints
	for _, k := range []string{"node_name", "name"} {
		if v, ok := body[k].(string); ok && v != "" {
			h.name = v
			break
		}
	}
	h.latitude = floatField(body, "latitude", "node_latitude")
	h.longitude = floatField(body, "longitude", "node_longitude")
	return h
}

func floatField(body map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if v, ok := body[k].(float64); ok {
			return &v
		}
	}
	return nil
}

// fingerprint is the one-way digest of a raw credential. The raw credential
// is never stored; the fingerprint uniquely determines the node id forever.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// resolveNode maps a credential to its node, creating the registry entry on
// first contact. Hints merge per the upsert policy (name overwrites,
// coordinates only fill nulls) and last_seen is always refreshed.
func (s *Server) resolveNode(key string, h nodeHints) (*models.Node, error) {
	fp := fingerprint(key)

	node, err := s.store.NodeByFingerprint(fp)
	if err != nil {
		return nil, err
	}
	if node == nil {
		id := fp[:nodeIDLen]
		name := h.name
		if name == "" {
			name = fmt.Sprintf("Node-%s", id)
		}
		return s.store.UpsertNode(&models.Node{
			ID:             id,
			Name:           name,
			Latitude:       h.latitude,
			Longitude:      h.longitude,
			KeyFingerprint: fp,
		})
	}

	if h.name != "" || h.latitude != nil || h.longitude != nil {
		return s.store.UpsertNode(&models.Node{
			ID:        node.ID,
			Name:      h.name,
			Latitude:  h.latitude,
			Longitude: h.longitude,
		})
	}
	if err := s.store.TouchNode(node.ID); err != nil {
		return nil, err
	}
	return node, nil
}

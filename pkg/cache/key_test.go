package cache

import (
	"strings"
	"testing"
)

func TestKey_Deterministic(t *testing.T) {
	a := Key{
		Endpoint: "/api/v1/home",
		Params:   map[string]string{"category": "anime", "page": "2"},
	}
	b := Key{
		Endpoint: "/api/v1/home",
		Params:   map[string]string{"page": "2", "category": "anime"},
	}

	if a.String() != b.String() {
		t.Errorf("keys differ for identical params: %s vs %s", a.String(), b.String())
	}
}

func TestKey_EndpointNormalization(t *testing.T) {
	a := Key{Endpoint: "api/v1/home"}
	b := Key{Endpoint: "/api/v1/home/"}

	if a.String() != b.String() {
		t.Errorf("keys differ for equivalent endpoints: %s vs %s", a.String(), b.String())
	}
}

func TestKey_DistinctParams(t *testing.T) {
	a := Key{Endpoint: "/api/v1/home", Params: map[string]string{"category": "anime"}}
	b := Key{Endpoint: "/api/v1/home", Params: map[string]string{"category": "donghua"}}
	c := Key{Endpoint: "/api/v1/home"}

	if a.String() == b.String() {
		t.Error("different param values produced the same key")
	}
	if a.String() == c.String() {
		t.Error("params vs no params produced the same key")
	}
}

func TestKey_Prefix(t *testing.T) {
	k := Key{Endpoint: "/api/v1/home"}
	if !strings.HasPrefix(k.String(), KeyPrefix+":") {
		t.Errorf("key %q missing prefix %q", k.String(), KeyPrefix)
	}
}

func TestKey_StaleKey(t *testing.T) {
	k := Key{Endpoint: "/api/v1/home"}
	if k.StaleKey() != k.String()+":stale" {
		t.Errorf("unexpected stale key %q", k.StaleKey())
	}
}

func TestKey_ParamsNeedingEscape(t *testing.T) {
	a := Key{
		Endpoint: "/api/v1/episode-detail",
		Params: map[string]string{
			"episode_url": "https://v1.samehadaku.how/anime/one-piece/",
			"category":    "anime",
		},
	}
	b := Key{
		Endpoint: "/api/v1/episode-detail",
		Params: map[string]string{
			"category":    "anime",
			"episode_url": "https://v1.samehadaku.how/anime/one-piece/",
		},
	}
	if a.String() != b.String() {
		t.Error("escaped params broke key determinism")
	}
}

package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=10&offset=30", 10, 30},
		{"?limit=500", MaxLimit, 0},
		{"?limit=-3", DefaultLimit, 0},
		{"?offset=-5", DefaultLimit, 0},
		{"?limit=10&page=3", 10, 20},
		{"?limit=10&page=0", 10, 0},
		{"?limit=10&page=3&offset=5", 10, 5},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := paramsFor(tt.query)
			if p.Limit != tt.limit || p.Offset != tt.offset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.limit, tt.offset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b"}
	r := NewResponse(data, 50, 20, 0)
	if r.Total != 50 || r.Limit != 20 || r.Offset != 0 {
		t.Errorf("unexpected envelope %+v", r)
	}
	if !r.HasMore {
		t.Error("expected has_more for first page of 50")
	}
	if NewResponse(data, 40, 20, 20).HasMore {
		t.Error("expected no more results on last page")
	}
}

func TestParams_HasNext(t *testing.T) {
	if (Params{Limit: 10, Offset: 0}).HasNext(10) {
		t.Error("exact fit should not have a next page")
	}
	if !(Params{Limit: 10, Offset: 0}).HasNext(11) {
		t.Error("expected next page")
	}
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"refledger/internal/link/models"
	"refledger/internal/link/service"
	"refledger/internal/link/shortcode"
	linkstore "refledger/internal/link/store"
	partnermodels "refledger/internal/partner/models"
	partnerstore "refledger/internal/partner/store"
	"refledger/pkg/domain"
)

// LinkHandlerSuite exercises HTTP concerns against a real service wired to
// in-memory stores.
type LinkHandlerSuite struct {
	suite.Suite
	router  http.Handler
	service *service.Service
	cafe    *partnermodels.Cafe
}

func TestLinkHandlerSuite(t *testing.T) {
	suite.Run(t, new(LinkHandlerSuite))
}

func (s *LinkHandlerSuite) SetupTest() {
	links := linkstore.NewInMemoryLinkStore()
	cafes := partnerstore.NewInMemoryCafeStore()

	codes, err := shortcode.New("ABCDEFGHJKMNPQRSTUVWXYZ23456789", 8, 5)
	s.Require().NoError(err)
	s.service = service.New(links, cafes, codes)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.service, logger)

	r := chi.NewRouter()
	h.RegisterAdmin(r)
	h.RegisterPublic(r)
	s.router = r

	s.cafe, err = partnermodels.NewCafe(domain.NewCafeID(), domain.NewPartnerID(), "Handler Cafe", 0.05, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(cafes.Create(context.Background(), s.cafe))
}

func (s *LinkHandlerSuite) createLink(target string, utmSource string) *models.Link {
	link, err := s.service.CreateLink(context.Background(), s.cafe.ID, target, models.UTM{Source: utmSource, Medium: "referral"}, 30)
	s.Require().NoError(err)
	return link
}

func (s *LinkHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.T(), err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *LinkHandlerSuite) TestCreateLink() {
	s.Run("creates a link", func() {
		rec := s.do(http.MethodPost, fmt.Sprintf("/cafes/%s/links", s.cafe.ID), map[string]any{
			"target_url": "https://cafe.example/menu",
			"utm_source": "naver",
			"ttl_days":   30,
		})
		s.Equal(http.StatusCreated, rec.Code)

		var link models.Link
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &link))
		s.Len(link.ShortCode, 8)
		s.Equal("naver", link.UTM.Source)
	})

	s.Run("rejects invalid JSON", func() {
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/cafes/%s/links", s.cafe.ID), bytes.NewReader([]byte("not json")))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects missing target_url", func() {
		rec := s.do(http.MethodPost, fmt.Sprintf("/cafes/%s/links", s.cafe.ID), map[string]any{"ttl_days": 30})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects malformed cafe id", func() {
		rec := s.do(http.MethodPost, "/cafes/not-a-uuid/links", map[string]any{
			"target_url": "https://cafe.example",
			"ttl_days":   30,
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown cafe is 404", func() {
		rec := s.do(http.MethodPost, fmt.Sprintf("/cafes/%s/links", domain.NewCafeID()), map[string]any{
			"target_url": "https://cafe.example",
			"ttl_days":   30,
		})
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *LinkHandlerSuite) TestRedirect() {
	s.Run("302 with UTM parameters appended", func() {
		link := s.createLink("https://cafe.example/menu", "naver")

		rec := s.do(http.MethodGet, "/r/"+link.ShortCode, nil)
		s.Equal(http.StatusFound, rec.Code)
		s.Equal("https://cafe.example/menu?utm_source=naver&utm_medium=referral", rec.Header().Get("Location"))
	})

	s.Run("appends with ampersand when the target already has a query", func() {
		link := s.createLink("https://cafe.example/menu?tab=drinks", "naver")

		rec := s.do(http.MethodGet, "/r/"+link.ShortCode, nil)
		s.Equal(http.StatusFound, rec.Code)
		s.Equal("https://cafe.example/menu?tab=drinks&utm_source=naver&utm_medium=referral", rec.Header().Get("Location"))
	})

	s.Run("click increments across redirects", func() {
		link := s.createLink("https://cafe.example/a", "")

		s.do(http.MethodGet, "/r/"+link.ShortCode, nil)
		s.do(http.MethodGet, "/r/"+link.ShortCode, nil)

		found, err := s.service.GetLink(context.Background(), link.ID)
		s.Require().NoError(err)
		s.EqualValues(2, found.Clicks)
	})

	s.Run("unknown code is 404", func() {
		rec := s.do(http.MethodGet, "/r/UNKNOWN1", nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("revoked link is 409", func() {
		link := s.createLink("https://cafe.example/gone", "")
		_, err := s.service.RevokeLink(context.Background(), link.ID)
		s.Require().NoError(err)

		rec := s.do(http.MethodGet, "/r/"+link.ShortCode, nil)
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *LinkHandlerSuite) TestAdminReads() {
	link := s.createLink("https://cafe.example/menu", "")

	s.Run("gets a link by id", func() {
		rec := s.do(http.MethodGet, "/links/"+link.ID.String(), nil)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("lists a cafe's links", func() {
		rec := s.do(http.MethodGet, fmt.Sprintf("/cafes/%s/links?page=1&page_size=10", s.cafe.ID), nil)
		s.Equal(http.StatusOK, rec.Code)

		var result struct {
			Items []json.RawMessage `json:"items"`
			Total int               `json:"total"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
		s.Equal(1, result.Total)
	})

	s.Run("revoke then revoke again conflicts", func() {
		rec := s.do(http.MethodPost, "/links/"+link.ID.String()+"/revoke", nil)
		s.Equal(http.StatusOK, rec.Code)

		rec = s.do(http.MethodPost, "/links/"+link.ID.String()+"/revoke", nil)
		s.Equal(http.StatusConflict, rec.Code)
	})
}

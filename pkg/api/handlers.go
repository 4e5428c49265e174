package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/dnsrest/pkg/log"
	"github.com/cuemby/dnsrest/pkg/types"
	"github.com/gorilla/mux"
)

const maxBodySize = 1 << 20

// ContainerRequest is the body of PUT /container/{label}/{arg}
type ContainerRequest struct {
	Domains *[]string `json:"domains"`
}

// DomainRequest is the body of PUT /domain/{domain}
type DomainRequest struct {
	IPs *[]string `json:"ips"`
}

func (s *Server) getContainer(w http.ResponseWriter, r *http.Request) {
	key, err := containerKey(mux.Vars(r))
	if err != nil {
		fail(w, "%v", err)
		return
	}
	record(w, s.registry.Get(key))
}

func (s *Server) putContainer(w http.ResponseWriter, r *http.Request) {
	key, err := containerKey(mux.Vars(r))
	if err != nil {
		fail(w, "%v", err)
		return
	}

	var req ContainerRequest
	if err := decode(r, &req); err != nil {
		fail(w, "%v", err)
		return
	}
	if req.Domains == nil {
		fail(w, `missing a "domains" array`)
		return
	}

	domains := make([]string, 0, len(*req.Domains))
	for _, d := range *req.Domains {
		name, err := types.NormalizeDomain(d)
		if err != nil {
			fail(w, "%v", err)
			return
		}
		domains = append(domains, name)
	}

	s.registry.Add(key, domains)
	ok(w)
}

func (s *Server) deleteContainer(w http.ResponseWriter, r *http.Request) {
	key, err := containerKey(mux.Vars(r))
	if err != nil {
		fail(w, "%v", err)
		return
	}
	s.registry.Remove(key)
	ok(w)
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := types.NormalizeDomain(mux.Vars(r)["domain"])
	if err != nil {
		fail(w, "%v", err)
		return
	}
	record(w, s.registry.StaticAddrs(domain))
}

func (s *Server) putDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := types.NormalizeDomain(mux.Vars(r)["domain"])
	if err != nil {
		fail(w, "%v", err)
		return
	}

	var req DomainRequest
	if err := decode(r, &req); err != nil {
		fail(w, "%v", err)
		return
	}
	if req.IPs == nil {
		fail(w, `missing an "ips" array`)
		return
	}
	for _, ip := range *req.IPs {
		if err := types.ValidateIPv4(ip); err != nil {
			fail(w, "%v", err)
			return
		}
	}

	for _, ip := range *req.IPs {
		s.registry.ActivateStatic(domain, ip)
	}
	ok(w)
}

func (s *Server) deleteDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := types.NormalizeDomain(mux.Vars(r)["domain"])
	if err != nil {
		fail(w, "%v", err)
		return
	}
	s.registry.DeactivateStatic(domain)
	ok(w)
}

func (s *Server) getDebug(w http.ResponseWriter, r *http.Request) {
	dump, err := s.registry.Dump()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Code: 1, Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dump)
}

// streamEvents writes applied lifecycle events as newline-delimited JSON
// until the client goes away
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{Code: 1, Message: "event stream disabled"})
		return
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	rc := http.NewResponseController(w)
	// Streams outlive any server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-sub:
			if !open {
				return
			}
			if err := enc.Encode(e); err != nil {
				log.Logger.Debug().
					Err(err).
					Str("component", "api").
					Msg("event stream client went away")
				return
			}
			_ = rc.Flush()
		}
	}
}

func containerKey(vars map[string]string) (string, error) {
	arg := vars["arg"]
	if arg == "" {
		return "", fmt.Errorf("missing container %s", vars["label"])
	}

	switch vars["label"] {
	case "name":
		return types.NameKey(arg), nil
	case "id":
		return types.IDKey(arg), nil
	default:
		return "", fmt.Errorf("unsupported label %q", vars["label"])
	}
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

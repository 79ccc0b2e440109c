// SPDX-FileCopyrightText: 2021 Softbear, Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/azrael-engine/azrael/wire"
	"github.com/azrael-engine/azrael/workpkg"
	"github.com/azrael-engine/azrael/world"
)

// payloadJSON is the wire form of a fetched work package: its metadata
// plus the current state of every id it covers, so a networked worker
// never needs a second round trip to the object store.
type payloadJSON struct {
	PackageID   world.PackageID                   `json:"package_id"`
	IDs         []world.ObjectID                  `json:"ids"`
	Token       world.Token                       `json:"token"`
	DT          float64                           `json:"dt"`
	MaxSubsteps int                               `json:"max_substeps"`
	Extras      map[world.ObjectID]extraJSON      `json:"extras,omitempty"`
	States      map[world.ObjectID]wire.StateJSON `json:"states"`
}

type extraJSON struct {
	CentralForce      world.Vec3  `json:"central_force"`
	Torque            world.Vec3  `json:"torque"`
	SuggestedPosition *world.Vec3 `json:"suggested_position,omitempty"`
}

type commitJSON struct {
	Token   world.Token                       `json:"token"`
	Results map[world.ObjectID]wire.StateJSON `json:"results"`
}

// PayloadServer exposes a coordinator's work-package registry and object
// store to networked workers: GET /payload/<id> returns the package plus
// current state for its ids, POST /commit/<id> records results. Grounded
// on mk48's server/main.go serveIndex handler, generalized from a single
// status blob to a per-package resource pair.
type PayloadServer struct {
	Registry *workpkg.Registry
	Store    *world.Store
}

func (s *PayloadServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var idStr string
	var isCommit bool
	switch {
	case len(r.URL.Path) > len("/payload/") && r.URL.Path[:len("/payload/")] == "/payload/":
		idStr = r.URL.Path[len("/payload/"):]
	case len(r.URL.Path) > len("/commit/") && r.URL.Path[:len("/commit/")] == "/commit/":
		idStr = r.URL.Path[len("/commit/"):]
		isCommit = true
	default:
		http.NotFound(w, r)
		return
	}

	var id world.PackageID
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
		http.Error(w, "malformed package id", http.StatusBadRequest)
		return
	}

	if isCommit {
		s.serveCommit(w, r, id)
		return
	}
	s.servePayload(w, id)
}

func (s *PayloadServer) servePayload(w http.ResponseWriter, id world.PackageID) {
	pkg, ok := s.Registry.FetchPayloadForPackage(id)
	if !ok {
		http.NotFound(w, nil)
		return
	}
	states := s.Store.Get(pkg.IDs)
	resp := payloadJSON{
		PackageID:   pkg.ID,
		IDs:         pkg.IDs,
		Token:       pkg.Token,
		DT:          pkg.DT,
		MaxSubsteps: pkg.MaxSubsteps,
		States:      make(map[world.ObjectID]wire.StateJSON, len(states)),
	}
	for objID, st := range states {
		resp.States[objID] = wire.ToStateJSON(st)
	}
	if len(pkg.Extras) > 0 {
		resp.Extras = make(map[world.ObjectID]extraJSON, len(pkg.Extras))
		for objID, extra := range pkg.Extras {
			resp.Extras[objID] = extraJSON{
				CentralForce:      extra.CentralForce,
				Torque:            extra.Torque,
				SuggestedPosition: extra.SuggestedPosition,
			}
		}
	}

	buf, err := wire.JSON.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf)
}

func (s *PayloadServer) serveCommit(w http.ResponseWriter, r *http.Request, id world.PackageID) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req commitJSON
	if err := wire.JSON.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	results := make(map[world.ObjectID]world.State, len(req.Results))
	for objID, st := range req.Results {
		results[objID] = st.ToState()
	}
	if err := s.Registry.Commit(id, req.Token, results); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PayloadClient is the worker side of PayloadServer: it fetches a
// package's payload by id and posts back commits. It keeps no state
// between calls.
type PayloadClient struct {
	BaseURL    string
	httpClient *http.Client
}

func NewPayloadClient(baseURL string) *PayloadClient {
	return &PayloadClient{BaseURL: baseURL, httpClient: http.DefaultClient}
}

// FetchedPackage is the client-side reconstruction of a workpkg.Package,
// plus the states a networked worker would otherwise read from a local
// world.Store.
type FetchedPackage struct {
	ID          world.PackageID
	IDs         []world.ObjectID
	Token       world.Token
	DT          float64
	MaxSubsteps int
	Extras      map[world.ObjectID]workpkg.Extra
	States      map[world.ObjectID]world.State
}

func (c *PayloadClient) FetchPayload(ctx context.Context, id world.PackageID) (*FetchedPackage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/payload/%d", c.BaseURL, id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var got payloadJSON
	if err := wire.JSON.Unmarshal(body, &got); err != nil {
		return nil, err
	}

	out := &FetchedPackage{
		ID:          got.PackageID,
		IDs:         got.IDs,
		Token:       got.Token,
		DT:          got.DT,
		MaxSubsteps: got.MaxSubsteps,
		States:      make(map[world.ObjectID]world.State, len(got.States)),
	}
	for objID, st := range got.States {
		out.States[objID] = st.ToState()
	}
	if len(got.Extras) > 0 {
		out.Extras = make(map[world.ObjectID]workpkg.Extra, len(got.Extras))
		for objID, extra := range got.Extras {
			out.Extras[objID] = workpkg.Extra{
				CentralForce:      extra.CentralForce,
				Torque:            extra.Torque,
				SuggestedPosition: extra.SuggestedPosition,
			}
		}
	}
	return out, nil
}

func (c *PayloadClient) Commit(ctx context.Context, id world.PackageID, token world.Token, results map[world.ObjectID]world.State) error {
	body := commitJSON{Token: token, Results: make(map[world.ObjectID]wire.StateJSON, len(results))}
	for objID, st := range results {
		body.Results[objID] = wire.ToStateJSON(st)
	}
	buf, err := wire.JSON.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/commit/%d", c.BaseURL, id), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("commit package %d: %s: %s", id, resp.Status, data)
	}
	return nil
}

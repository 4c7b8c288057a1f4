package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"zwave-go-home/internal/store"
	"zwave-go-home/internal/values"
)

const maxBodyBytes = 1 << 16

type nodeView struct {
	*store.Node
	LiveValues []valueView `json:"live_values"`
}

type valueView struct {
	Label    string   `json:"label"`
	Genre    string   `json:"genre"`
	Value    any      `json:"value"`
	ReadOnly bool     `json:"read_only"`
	Options  []string `json:"options,omitempty"`
}

func (s *Server) nodeView(node *store.Node) nodeView {
	vals := s.ctrl.Values().ForNode(node.NodeID)
	views := make([]valueView, 0, len(vals))
	for _, v := range vals {
		view := valueView{
			Label:    v.Meta.Label,
			Genre:    string(v.Meta.Genre),
			Value:    v.Display(),
			ReadOnly: v.Meta.ReadOnly,
		}
		for _, opt := range v.Options {
			view.Options = append(view.Options, opt.Label)
		}
		views = append(views, view)
	}
	return nodeView{Node: node, LiveValues: views}
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleAPINetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Network())
}

func (s *Server) handleAPIListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.ctrl.Store().ListNodes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, s.nodeView(node))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := nodeIDFromPath(w, r)
	if !ok {
		return
	}
	node, err := s.ctrl.Store().GetNode(nodeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.nodeView(node))
}

func (s *Server) handleAPIAddNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID         uint8    `json:"node_id"`
		FriendlyName   string   `json:"friendly_name"`
		CommandClasses []uint8  `json:"command_classes"`
		ClassNames     []string `json:"class_names"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	classes := req.CommandClasses
	for _, name := range req.ClassNames {
		id, ok := s.ctrl.Registry().IDByName(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown command class: "+name)
			return
		}
		classes = append(classes, id)
	}
	if len(classes) == 0 {
		writeError(w, http.StatusBadRequest, "at least one command class is required")
		return
	}

	node := &store.Node{
		NodeID:         req.NodeID,
		FriendlyName:   req.FriendlyName,
		CommandClasses: classes,
	}
	if err := s.ctrl.Nodes().Add(r.Context(), node); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.nodeView(node))
}

func (s *Server) handleAPIRenameNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := nodeIDFromPath(w, r)
	if !ok {
		return
	}
	var req struct {
		FriendlyName string `json:"friendly_name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	err := s.ctrl.Store().UpdateNode(nodeID, func(node *store.Node) error {
		node.FriendlyName = req.FriendlyName
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAPIDeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := nodeIDFromPath(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.Nodes().Remove(nodeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAPISetValue(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := nodeIDFromPath(w, r)
	if !ok {
		return
	}
	var req struct {
		Label string `json:"label"`
		Value string `json:"value"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	if err := s.ctrl.SetValue(r.Context(), nodeID, req.Label, req.Value); err != nil {
		if errors.Is(err, values.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func nodeIDFromPath(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return 0, false
	}
	return uint8(id), true
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

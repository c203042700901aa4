package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/putreap/putreap/internal/putio"
	"github.com/putreap/putreap/internal/transfer"
)

// request is the Transmission RPC envelope.
type request struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments"`
	Tag       *int64          `json:"tag,omitempty"`
}

// response is the Transmission RPC reply envelope. Result is "success" or a
// human-readable error string.
type response struct {
	Result    string `json:"result"`
	Arguments any    `json:"arguments,omitempty"`
	Tag       *int64 `json:"tag,omitempty"`
}

// torrent is the subset of Transmission torrent fields the Arr services
// read. Returning fields the caller did not ask for is harmless.
type torrent struct {
	ID            uint64  `json:"id"`
	HashString    string  `json:"hashString"`
	Name          string  `json:"name"`
	DownloadDir   string  `json:"downloadDir"`
	TotalSize     int64   `json:"totalSize"`
	LeftUntilDone int64   `json:"leftUntilDone"`
	PercentDone   float64 `json:"percentDone"`
	ETA           int64   `json:"eta"`
	Status        int     `json:"status"`
	IsFinished    bool    `json:"isFinished"`
	ErrorString   string  `json:"errorString"`
	SeedRatioMode int     `json:"seedRatioMode"`
}

// Transmission status codes.
const (
	statusStopped      = 0
	statusCheck        = 2
	statusDownloadWait = 3
	statusDownloading  = 4
	statusSeeding      = 6
)

func (s *Server) handleRPC(c echo.Context) error {
	if c.Request().Header.Get(sessionHeader) != s.sessionID {
		c.Response().Header().Set(sessionHeader, s.sessionID)
		return c.NoContent(http.StatusConflict)
	}

	var req request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}

	s.logger.Debug().Str("rpc_method", req.Method).Msg("handling call")

	args, err := s.dispatch(c.Request().Context(), &req)
	if err != nil {
		s.logger.Error().Err(err).Str("rpc_method", req.Method).Msg("call failed")
		return c.JSON(http.StatusOK, response{Result: err.Error(), Tag: req.Tag})
	}

	return c.JSON(http.StatusOK, response{Result: "success", Arguments: args, Tag: req.Tag})
}

func (s *Server) dispatch(ctx context.Context, req *request) (any, error) {
	switch req.Method {
	case "session-get":
		return s.sessionGet(), nil
	case "session-stats":
		return s.sessionStats(ctx)
	case "torrent-get":
		return s.torrentGet(ctx, req.Arguments)
	case "torrent-add":
		return s.torrentAdd(ctx, req.Arguments)
	case "torrent-remove":
		return s.torrentRemove(ctx, req.Arguments)
	case "torrent-set", "torrent-verify", "queue-move-top":
		// Accepted for client compatibility; there is nothing to adjust on
		// a cloud transfer.
		return struct{}{}, nil
	default:
		return nil, fmt.Errorf("method %q not supported", req.Method)
	}
}

func (s *Server) sessionGet() map[string]any {
	return map[string]any{
		"rpc-version":         18,
		"rpc-version-minimum": 14,
		"version":             "4.0.0",
		"download-dir":        s.cfg.DownloadDirectory,
		"seedRatioLimit":      1.0,
		"seedRatioLimited":    false,
	}
}

func (s *Server) sessionStats(ctx context.Context) (map[string]any, error) {
	transfers, err := s.listTransfers(ctx)
	if err != nil {
		return nil, err
	}

	active := 0
	for i := range transfers {
		if transfers[i].StatusIs(putio.StatusDownloading) || transfers[i].StatusIs(putio.StatusSeeding) {
			active++
		}
	}

	return map[string]any{
		"torrentCount":       len(transfers),
		"activeTorrentCount": active,
		"pausedTorrentCount": 0,
		"downloadSpeed":      0,
		"uploadSpeed":        0,
	}, nil
}

// torrentGetArgs carries torrent-get parameters. The ids filter accepts both
// numeric transfer ids and hash strings, matching Transmission.
type torrentGetArgs struct {
	IDs    []any    `json:"ids"`
	Fields []string `json:"fields"`
}

func (s *Server) torrentGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var args torrentGetArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding torrent-get arguments: %w", err)
		}
	}

	transfers, err := s.listTransfers(ctx)
	if err != nil {
		return nil, err
	}

	torrents := make([]torrent, 0, len(transfers))
	for i := range transfers {
		remote := &transfers[i]
		t := transfer.New(remote)
		if !matchesIDs(args.IDs, t) {
			continue
		}
		torrents = append(torrents, s.renderTorrent(remote, t))
	}

	return map[string]any{"torrents": torrents}, nil
}

func (s *Server) renderTorrent(remote *putio.Transfer, t *transfer.Transfer) torrent {
	errorString := ""
	if remote.ErrorMessage != nil {
		errorString = *remote.ErrorMessage
	}

	return torrent{
		ID:            t.ID,
		HashString:    t.Hash(),
		Name:          t.Name(),
		DownloadDir:   s.cfg.DownloadDirectory,
		TotalSize:     t.Size(),
		LeftUntilDone: t.LeftUntilDone(),
		PercentDone:   t.PercentDone(),
		ETA:           t.EstimatedTime(),
		Status:        mapStatus(t.Status()),
		IsFinished:    finished(remote),
		ErrorString:   errorString,
	}
}

// finished reports whether the remote side is done downloading and the file
// tree exists, which is what Transmission's isFinished conveys.
func finished(remote *putio.Transfer) bool {
	done := remote.StatusIs(putio.StatusCompleted) || remote.StatusIs(putio.StatusSeeding)
	return done && remote.UserfileExists
}

// mapStatus translates a put.io transfer status onto the Transmission
// status enum the Arr services expect.
func mapStatus(status string) int {
	switch strings.ToUpper(status) {
	case putio.StatusDownloading, putio.StatusCompleting, putio.StatusPreparingDownload:
		return statusDownloading
	case putio.StatusSeeding, putio.StatusSeedingWait:
		return statusSeeding
	case putio.StatusInQueue, putio.StatusQueued:
		return statusDownloadWait
	case putio.StatusCheck, putio.StatusCheckWait:
		return statusCheck
	default:
		return statusStopped
	}
}

// torrentAddArgs carries torrent-add parameters. Exactly one of Filename
// (magnet link or URL) and Metainfo (base64 .torrent) is set.
type torrentAddArgs struct {
	Filename    string `json:"filename"`
	Metainfo    string `json:"metainfo"`
	DownloadDir string `json:"download-dir"`
}

func (s *Server) torrentAdd(ctx context.Context, raw json.RawMessage) (any, error) {
	var args torrentAddArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding torrent-add arguments: %w", err)
	}

	switch {
	case args.Metainfo != "":
		data, err := base64.StdEncoding.DecodeString(args.Metainfo)
		if err != nil {
			return nil, fmt.Errorf("decoding metainfo: %w", err)
		}

		name := ulid.Make().String() + ".torrent"
		if err := s.cloud.UploadFile(ctx, name, data, s.cfg.InstanceFolderID); err != nil {
			return nil, fmt.Errorf("uploading torrent file: %w", err)
		}

		s.logger.Info().Str("name", name).Msg("torrent file uploaded")
		return map[string]any{
			"torrent-added": map[string]any{"name": name},
		}, nil

	case args.Filename != "":
		added, err := s.cloud.AddTransfer(ctx, args.Filename, s.cfg.InstanceFolderID)
		if err != nil {
			return nil, fmt.Errorf("adding transfer: %w", err)
		}

		t := transfer.New(added)
		s.logger.Info().Stringer("transfer", t).Msg("transfer added")
		return map[string]any{
			"torrent-added": map[string]any{
				"id":         t.ID,
				"name":       t.Name(),
				"hashString": hashFromMagnet(args.Filename, t.Hash()),
			},
		}, nil

	default:
		return nil, fmt.Errorf("torrent-add needs a filename or metainfo")
	}
}

// hashFromMagnet extracts the btih info hash from a magnet link. put.io does
// not report a hash until the transfer starts, but the Arr services key on
// it immediately.
func hashFromMagnet(link, fallback string) string {
	u, err := url.Parse(link)
	if err != nil || u.Scheme != "magnet" {
		return fallback
	}
	for _, xt := range u.Query()["xt"] {
		if hash, ok := strings.CutPrefix(xt, "urn:btih:"); ok {
			return strings.ToLower(hash)
		}
	}
	return fallback
}

// torrentRemoveArgs carries torrent-remove parameters.
type torrentRemoveArgs struct {
	IDs             []any `json:"ids"`
	DeleteLocalData bool  `json:"delete-local-data"`
}

func (s *Server) torrentRemove(ctx context.Context, raw json.RawMessage) (any, error) {
	var args torrentRemoveArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding torrent-remove arguments: %w", err)
	}

	transfers, err := s.listTransfers(ctx)
	if err != nil {
		return nil, err
	}

	for i := range transfers {
		t := transfer.New(&transfers[i])
		if !matchesIDs(args.IDs, t) {
			continue
		}

		if err := s.cloud.RemoveTransfer(ctx, t.ID); err != nil {
			return nil, fmt.Errorf("removing transfer %s: %w", t, err)
		}
		s.logger.Info().Stringer("transfer", t).Msg("transfer removed")

		if args.DeleteLocalData && t.FileID != nil {
			if err := s.cloud.DeleteFile(ctx, *t.FileID); err != nil {
				return nil, fmt.Errorf("deleting files of transfer %s: %w", t, err)
			}
			s.logger.Info().Stringer("transfer", t).Msg("remote files deleted")
		}
	}

	return struct{}{}, nil
}

func (s *Server) listTransfers(ctx context.Context) ([]putio.Transfer, error) {
	transfers, err := s.cloud.ListTransfers(ctx, putio.ListTransfersOptions{
		Source:   s.cfg.InstanceName,
		ParentID: s.cfg.InstanceFolderID,
	})
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	return transfers, nil
}

// matchesIDs reports whether t is selected by a Transmission ids filter.
// An empty filter selects everything; entries may be numeric transfer ids
// or hash strings.
func matchesIDs(ids []any, t *transfer.Transfer) bool {
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		switch v := id.(type) {
		case string:
			if strings.EqualFold(v, t.Hash()) {
				return true
			}
		case float64:
			if uint64(v) == t.ID {
				return true
			}
		}
	}
	return false
}

// Package organizer lets an external "organizer" process participate in
// catalog mutations without being handed a raw database connection
// (spec §9 "long-lived connection under transactions", §6 "organizer
// peer may wrap catalog mutations in begin/commit/rollback
// transactions"). The host always holds the transaction; the peer is
// consulted over HashiCorp go-plugin's net/rpc transport before the
// host opens it, and returns a decision the host applies inside the
// transaction before commit.
//
// net/rpc rather than go-plugin's gRPC transport is deliberate: gRPC
// mode needs protoc-generated stubs, and no protoc toolchain is
// available here. net/rpc needs only plain Go types (see DESIGN.md).
package organizer

import (
	"fmt"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake identifies a compatible organizer binary; host and peer
// must agree on ProtocolVersion and the magic cookie or the connection
// is refused.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CLAPSHOT_ORGANIZER_PLUGIN",
	MagicCookieValue: "clapshot",
}

// PluginMap is the single plugin kind this host dispenses.
var PluginMap = map[string]plugin.Plugin{
	"organizer": &Plugin{},
}

// DecisionRequest summarizes the media file an ingest or update touched,
// enough for an organizer to decide on a rename or a veto without
// needing direct catalog access.
type DecisionRequest struct {
	MediaId         string
	Event           string // "media-file-added" or "media-file-updated"
	UserId          string
	OrigFilename    string
	Title           string
	DurationSeconds float64
	TotalFrames     int
}

// DecisionResponse is what the organizer hands back. RenameTo, if
// non-empty, is applied via RenameMediaFile before commit. Abort rolls
// the whole transaction back.
type DecisionResponse struct {
	RenameTo    string
	Abort       bool
	AbortReason string
}

// Organizer is the contract an external peer implements.
type Organizer interface {
	Decide(req DecisionRequest) (DecisionResponse, error)
}

// Plugin adapts an Organizer to go-plugin's net/rpc Plugin interface:
// Server runs in the organizer process, Client in the host.
type Plugin struct {
	Impl Organizer
}

func (p *Plugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *Plugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

// rpcServer runs inside the organizer process, dispatching RPCs to Impl.
type rpcServer struct {
	impl Organizer
}

func (s *rpcServer) Decide(req DecisionRequest, resp *DecisionResponse) error {
	out, err := s.impl.Decide(req)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

// rpcClient runs inside the host, forwarding Decide calls over net/rpc.
type rpcClient struct {
	client *rpc.Client
}

func (c *rpcClient) Decide(req DecisionRequest) (DecisionResponse, error) {
	var resp DecisionResponse
	if err := c.client.Call("Plugin.Decide", req, &resp); err != nil {
		return DecisionResponse{}, fmt.Errorf("organizer: Decide RPC: %w", err)
	}
	return resp, nil
}

package organizer

import (
	"fmt"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/buulam/clapshot/internal/catalog"
)

// Client is a live connection to an organizer peer process.
type Client struct {
	rpcClient *plugin.Client
	organizer Organizer
}

// Launch starts the organizer binary at path and performs the go-plugin
// handshake over it. Callers must call Close when done.
func Launch(path string, logger hclog.Logger) (*Client, error) {
	c := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap,
		Cmd:             exec.Command(path),
		Logger:          logger,
	})

	rpcClient, err := c.Client()
	if err != nil {
		c.Kill()
		return nil, fmt.Errorf("organizer: connect to %s: %w", path, err)
	}

	raw, err := rpcClient.Dispense("organizer")
	if err != nil {
		c.Kill()
		return nil, fmt.Errorf("organizer: dispense %s: %w", path, err)
	}

	org, ok := raw.(Organizer)
	if !ok {
		c.Kill()
		return nil, fmt.Errorf("organizer: %s does not implement Organizer", path)
	}

	return &Client{rpcClient: c, organizer: org}, nil
}

// Close terminates the organizer subprocess.
func (c *Client) Close() {
	c.rpcClient.Kill()
}

// RunDecision asks the organizer what to do about req, then opens a
// transaction, applies a non-empty RenameTo, and commits — or rolls
// back, on an Abort decision or any error. This is the "organizer peer may wrap
// catalog mutations in begin/commit/rollback transactions" contract of
// spec §6: the host always owns the transaction, the peer only advises.
func (c *Client) RunDecision(store *catalog.Store, req DecisionRequest) error {
	resp, err := c.organizer.Decide(req)
	if err != nil {
		return fmt.Errorf("organizer: decide: %w", err)
	}

	tx, err := store.Begin()
	if err != nil {
		return fmt.Errorf("organizer: begin: %w", err)
	}

	if resp.Abort {
		tx.Rollback()
		return fmt.Errorf("organizer: vetoed: %s", resp.AbortReason)
	}

	if resp.RenameTo != "" {
		if err := tx.Store().RenameMediaFile(req.MediaId, resp.RenameTo); err != nil {
			tx.Rollback()
			return fmt.Errorf("organizer: apply rename: %w", err)
		}
	}

	return tx.Commit()
}

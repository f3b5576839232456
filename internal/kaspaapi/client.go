// Package kaspaapi wraps the real kaspad RPC client: block template
// retrieval, new-template notifications, and block submission. It is a thin
// adapter — the node RPC transport and the Kaspa hash function internals are
// treated as an external collaborator's concern, never reimplemented here.
package kaspaapi

import (
	"context"

	"github.com/kaspanet/kaspad/app/appmessage"
	"github.com/kaspanet/kaspad/infrastructure/network/rpcclient"
	"github.com/pkg/errors"
)

// NodeClient is the contract this bridge needs from a Kaspa node. Backed in
// production by *rpcclient.RPCClient; faked in tests. powHash is the job's
// precomputed pre_pow_hash; the production adapter accepts it but does not
// use it when converting the block to its domain form.
type NodeClient interface {
	GetBlockTemplate(payAddress, extraData string) (*appmessage.GetBlockTemplateResponseMessage, error)
	RegisterForNewBlockTemplateNotifications(onNotify func(*appmessage.NewBlockTemplateNotificationMessage)) error
	SubmitBlock(block *appmessage.RPCBlock, powHash [32]byte) (appmessage.RejectReason, error)
	GetInfo() (*appmessage.GetInfoResponseMessage, error)
	Close() error
}

// rpcNodeClient adapts rpcclient.RPCClient to NodeClient.
type rpcNodeClient struct {
	inner *rpcclient.RPCClient
}

// Dial connects to a kaspad node's RPC endpoint. ctx is not consulted; the
// connection attempt runs with rpcclient's own defaults.
func Dial(ctx context.Context, address string) (NodeClient, error) {
	client, err := rpcclient.NewRPCClient(address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial kaspad at %s", address)
	}
	return &rpcNodeClient{inner: client}, nil
}

func (c *rpcNodeClient) GetBlockTemplate(payAddress, extraData string) (*appmessage.GetBlockTemplateResponseMessage, error) {
	return c.inner.GetBlockTemplate(payAddress, extraData)
}

func (c *rpcNodeClient) RegisterForNewBlockTemplateNotifications(onNotify func(*appmessage.NewBlockTemplateNotificationMessage)) error {
	return c.inner.RegisterForNewBlockTemplateNotifications(onNotify)
}

func (c *rpcNodeClient) SubmitBlock(block *appmessage.RPCBlock, powHash [32]byte) (appmessage.RejectReason, error) {
	domainBlock, err := appmessage.RPCBlockToDomainBlock(block)
	if err != nil {
		return appmessage.RejectReasonNone, errors.Wrap(err, "convert block for submission")
	}
	resp, err := c.inner.SubmitBlock(domainBlock)
	if err != nil {
		return appmessage.RejectReasonNone, err
	}
	return resp, nil
}

func (c *rpcNodeClient) GetInfo() (*appmessage.GetInfoResponseMessage, error) {
	return c.inner.GetInfo()
}

func (c *rpcNodeClient) Close() error {
	c.inner.Close()
	return nil
}

package auth

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spruceid/siwe-go"
)

// EVM verifies EIP-4361 (sign-in with ethereum) messages. Identities are checksummed
// addresses.
type EVM struct {
	domain    string
	uri       string
	statement string
	chainId   int
}

func NewEVM(domain, uri, statement string, chainId int) *EVM {
	if chainId <= 0 {
		chainId = 1
	}
	return &EVM{domain: domain, uri: uri, statement: statement, chainId: chainId}
}

func (e *EVM) Kind() string { return KindEVM }

func (e *EVM) Normalize(publicKey string) (string, error) {
	if !common.IsHexAddress(publicKey) {
		return "", ErrInvalidPublicKey
	}
	return common.HexToAddress(publicKey).Hex(), nil
}

func (e *EVM) NewNonce() string { return siwe.GenerateNonce() }

func (e *EVM) Challenge(publicKey, nonce string) (string, error) {
	options := map[string]interface{}{"chainId": e.chainId}
	if e.statement != "" {
		options["statement"] = e.statement
	}
	msg, err := siwe.InitMessage(e.domain, publicKey, e.uri, nonce, options)
	if err != nil {
		return "", err
	}
	return msg.String(), nil
}

func (e *EVM) Verify(publicKey, message, signature, nonce string) error {
	siweMessage, err := siwe.ParseMessage(message)
	if err != nil {
		return ErrMessageMismatch
	}
	if siweMessage.GetAddress().Hex() != publicKey {
		return ErrMessageMismatch
	}

	domain := e.domain
	publicKeyEcdsa, err := siweMessage.Verify(signature, &domain, &nonce, nil)
	if err != nil {
		return ErrInvalidSignature
	}
	if crypto.PubkeyToAddress(*publicKeyEcdsa).Hex() != publicKey {
		return ErrInvalidSignature
	}
	return nil
}

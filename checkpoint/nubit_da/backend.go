package nubit_da

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/rollkit/go-da"
	"github.com/rollkit/go-da/proxy"
)

const (
	// NamespaceSize is the size of the hex encoded namespace string
	NamespaceSize = 29 * 2
	// Default namespace, hex of "charms"
	DefaultNamespace = "0000000000000000000000000000000000000000000000636861726D73"
	// Default local deployed Nubit Node
	DefaultNodeRPC       = "http://localhost:26658"
	DefaultFetchTimeout  = time.Minute
	DefaultSubmitTimeout = time.Minute
)

type NubitDABackend struct {
	Client        da.DA
	FetchTimeout  time.Duration
	SubmitTimeout time.Duration
	Namespace     da.Namespace
}

func NewNubitDABackend(rpc, token, namespace string, fetchTimeout string, submitTimeout string) (*NubitDABackend, error) {
	client, err := proxy.NewClient(rpc, token)
	if err != nil {
		return nil, err
	}
	return newBackend(client, namespace, fetchTimeout, submitTimeout)
}

func newBackend(client da.DA, namespace, fetchTimeout, submitTimeout string) (*NubitDABackend, error) {
	ns, err := NamespaceBytes(namespace)
	if err != nil {
		return nil, err
	}

	transFetchTimeout, err := time.ParseDuration(fetchTimeout)
	if err != nil {
		transFetchTimeout = DefaultFetchTimeout
	}
	transSubmitTimeout, err := time.ParseDuration(submitTimeout)
	if err != nil {
		transSubmitTimeout = DefaultSubmitTimeout
	}

	return &NubitDABackend{
		Client:        client,
		FetchTimeout:  transFetchTimeout,
		SubmitTimeout: transSubmitTimeout,
		Namespace:     ns,
	}, nil
}

// NamespaceBytes left pads the hex of a short namespace name to the full
// namespace size. An empty name selects DefaultNamespace.
func NamespaceBytes(namespace string) (da.Namespace, error) {
	if namespace == "" {
		return hex.DecodeString(DefaultNamespace)
	}
	return hex.DecodeString(padNamespaceLeft(hex.EncodeToString([]byte(namespace))))
}

func IsValidNamespaceID(nID string) bool {
	if len(nID) > 10 {
		return false
	}
	byteData := []byte(nID)
	hexString := hex.EncodeToString(byteData)
	return len(hexString) <= NamespaceSize
}

func padNamespaceLeft(s string) string {
	currentLength := len(s)
	if currentLength < NamespaceSize {
		return strings.Repeat("0", NamespaceSize-currentLength) + s
	}
	return s
}

package control

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	sshagent "golang.org/x/crypto/ssh/agent"

	"github.com/kradalby/ssh-agent-mux/internal/mux"
)

// checkSocketHealth probes one upstream: file present, connection accepted,
// identities answered. A successful query also yields the key count.
func checkSocketHealth(path string) SocketHealthInfo {
	info := SocketHealthInfo{Path: path}

	if _, err := os.Stat(path); err != nil {
		info.Status = HealthMissing
		info.Error = strptr("Socket file does not exist")
		return info
	}

	conn, err := net.DialTimeout("unix", path, mux.DialTimeout)
	if err != nil {
		info.Status = HealthConnectionFailed
		info.Error = strptr("Connection failed: " + err.Error())
		return info
	}
	defer conn.Close()

	keys, err := sshagent.NewClient(conn).List()
	if err != nil {
		if isWireError(err) {
			info.Status = HealthProtocolError
			info.Error = strptr("Protocol error: " + err.Error())
		} else {
			info.Status = HealthQueryFailed
			info.Error = strptr("Query failed: " + err.Error())
		}
		return info
	}

	count := len(keys)
	info.Status = HealthHealthy
	info.KeyCount = &count
	return info
}

// isWireError distinguishes a peer that broke the agent protocol from one
// that answered with a failure.
func isWireError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unmarshal") || strings.Contains(msg, "malformed")
}

// keyInfoFromAgentKey projects an agent identity into the control protocol,
// tagging it with the socket it came from.
func keyInfoFromAgentKey(k *sshagent.Key, sourceSocket string) KeyInfo {
	return KeyInfo{
		Fingerprint:  ssh.FingerprintSHA256(k),
		KeyType:      keyTypeName(k.Type()),
		Bits:         keyBits(k),
		Comment:      k.Comment,
		SourceSocket: sourceSocket,
	}
}

// keyTypeName shortens SSH algorithm names to the familiar family names
// ssh-keygen prints (ed25519, rsa, ecdsa, dsa).
func keyTypeName(algo string) string {
	switch {
	case algo == ssh.KeyAlgoED25519:
		return "ed25519"
	case algo == ssh.KeyAlgoRSA:
		return "rsa"
	case algo == ssh.KeyAlgoDSA:
		return "dsa"
	case strings.HasPrefix(algo, "ecdsa-sha2-"):
		return "ecdsa"
	case strings.HasPrefix(algo, "sk-"):
		return "sk-" + keyTypeName(strings.TrimSuffix(strings.TrimPrefix(algo, "sk-"), "@openssh.com"))
	default:
		return strings.TrimPrefix(algo, "ssh-")
	}
}

// keyBits extracts the key size where the notion applies (RSA modulus,
// ECDSA curve). Returns nil for fixed-size key types, matching ssh-add -l
// omitting bits for ed25519.
func keyBits(k *sshagent.Key) *int {
	pub, err := ssh.ParsePublicKey(k.Blob)
	if err != nil {
		return nil
	}
	cryptoPub, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil
	}
	switch key := cryptoPub.CryptoPublicKey().(type) {
	case *rsa.PublicKey:
		bits := key.N.BitLen()
		return &bits
	case *ecdsa.PublicKey:
		bits := key.Curve.Params().BitSize
		return &bits
	default:
		return nil
	}
}

func strptr(s string) *string {
	return &s
}

package keydata

import (
	"encoding/hex"
	"strings"

	"github.com/andygrunwald/vdf"
)

// One repo ships Key.vdf files with XOR-obfuscated keys.
const xorObfuscatedRepoMarker = "sean-who"

var xorRepoKey = []byte("Scalping dogs, I'll fuck you")

// ParseKeyVDF parses Key.vdf content into a depotID -> decryption key map.
// The repo name, when known, selects repo-specific deobfuscation.
func ParseKeyVDF(content string, repo string) map[string]string {
	keys := make(map[string]string)

	parser := vdf.NewParser(strings.NewReader(content))
	tree, err := parser.Parse()
	if err != nil {
		return keys
	}
	collectDecryptionKeys(tree, keys)

	if strings.Contains(repo, xorObfuscatedRepoMarker) {
		for id, key := range keys {
			keys[id] = xorDecryptHex(key, xorRepoKey)
		}
	}

	return keys
}

// collectDecryptionKeys walks the VDF tree looking for blocks of the form
//
//	"1995891" { "DecryptionKey" "hex" }
//
// at any depth, so both bare and "depots"-wrapped layouts parse.
func collectDecryptionKeys(node map[string]any, out map[string]string) {
	for id, v := range node {
		child, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if key, ok := child["DecryptionKey"].(string); ok && isDigits(id) {
			out[id] = key
			continue
		}
		collectDecryptionKeys(child, out)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// xorDecryptHex decodes a hex key, XORs it with a repeating key and
// re-encodes it. Returns the input unchanged if it is not valid hex.
func xorDecryptHex(hexKey string, xorKey []byte) string {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return hexKey
	}
	for i := range raw {
		raw[i] ^= xorKey[i%len(xorKey)]
	}
	return hex.EncodeToString(raw)
}

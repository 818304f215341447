package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/futbot/gofut/pkg/secretstore"
)

// 把 .env 中的 Binance 凭据导入加密的 badger secret store，
// 之后 .env 可以从服务器上删除。
func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("store", getenv("FUTBOT_SECRET_DB", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("FUTBOT_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set FUTBOT_SECRET_KEY or pass -secret-key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}

	apiKey := strings.TrimSpace(kv["BINANCE_API_KEY"])
	apiSecret := strings.TrimSpace(kv["BINANCE_API_SECRET"])
	if apiKey == "" && apiSecret == "" {
		fatal(fmt.Errorf("%s 中没有 BINANCE_API_KEY / BINANCE_API_SECRET", *inPath))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      false,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	written := 0
	if apiKey != "" {
		if err := ss.SetString(secretstore.KeyAPIKey, apiKey); err != nil {
			fatal(err)
		}
		written++
	}
	if apiSecret != "" {
		if err := ss.SetString(secretstore.KeyAPISecret, apiSecret); err != nil {
			fatal(err)
		}
		written++
	}

	fmt.Fprintf(os.Stderr, "已导入 %d 项凭据到 %s\n", written, *dbPath)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

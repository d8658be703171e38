// Command hashkey prints the bcrypt hash of an integration key, ready to be
// used as INTEGRATION_KEY_HASH.
//
//	hashkey -key "$(openssl rand -hex 32)"
//	echo -n "$KEY" | hashkey
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sakif/fitness-coach/internal/auth"
)

func main() {
	key := flag.String("key", "", "plaintext integration key (read from stdin when empty)")
	cost := flag.Int("cost", auth.DefaultKeyCost, "bcrypt cost")
	flag.Parse()

	plaintext := *key
	if plaintext == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "hashkey: no key given")
			os.Exit(2)
		}
		plaintext = strings.TrimSpace(line)
	}

	hash, err := auth.HashKey(plaintext, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashkey: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

package main

import (
	"flag"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"mimir_tracker/client"
	"mimir_tracker/keys"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "keygen":
		runKeygen(os.Args[2:])
	case "register":
		runRegister(os.Args[2:])
	case "resolve":
		runResolve(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: trackerctl <keygen|register|resolve> [flags]")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "tracker.key", "file to write the private key to")
	fs.Parse(args)

	key := keys.NewPrivateKey()
	text, err := key.MarshalText()
	if err != nil {
		fatal("failed to encode key: %v", err)
	}
	if err := os.WriteFile(*out, text, 0o600); err != nil {
		fatal("failed to write key file: %v", err)
	}

	fmt.Printf("wrote private key to %s\n", *out)
	fmt.Printf("identity: %s\n", key.PublicKey().EncodeToString())
}

func runRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	keyPath := fs.String("key", "tracker.key", "private key file")
	tracker := fs.String("tracker", "", "tracker address ([host]:port)")
	addrFlag := fs.String("addr", "", "ipv6 address to register (default: all global unicast addresses)")
	port := fs.Uint("port", 5050, "port to register")
	priority := fs.Uint("priority", 1, "priority to register")
	tag := fs.Uint("tag", 0, "client tag to register")
	fs.Parse(args)

	if *tracker == "" {
		fatal("missing required -tracker flag")
	}
	if *port > 65535 || *priority > 255 {
		fatal("flag value out of range")
	}

	key := loadKey(*keyPath)

	var addrs []netip.Addr
	if *addrFlag != "" {
		addr, err := netip.ParseAddr(*addrFlag)
		if err != nil {
			fatal("failed to parse -addr: %v", err)
		}
		addrs = append(addrs, addr)
	} else {
		var err error
		addrs, err = client.GlobalUnicastAddrs()
		if err != nil {
			fatal("failed to discover addresses: %v", err)
		}
		if len(addrs) == 0 {
			fatal("no global unicast ipv6 addresses found, pass -addr")
		}
	}

	c := client.New(*tracker)
	for _, addr := range addrs {
		ttl, err := c.Register(key, addr, uint16(*port), uint8(*priority), uint32(*tag))
		if err != nil {
			fatal("failed to register %s: %v", addr, err)
		}
		fmt.Printf("registered %s for %ds\n", addr, ttl)
	}
}

func runResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	id := fs.String("id", "", "identity to resolve (base64)")
	tracker := fs.String("tracker", "", "tracker address ([host]:port)")
	fs.Parse(args)

	if *tracker == "" {
		fatal("missing required -tracker flag")
	}
	if *id == "" {
		fatal("missing required -id flag")
	}

	var identity keys.PublicKey
	if err := identity.DecodeFromString(*id); err != nil {
		fatal("failed to parse identity: %v", err)
	}

	c := client.New(*tracker)
	records, err := c.Resolve(identity)
	if err != nil {
		fatal("failed to resolve: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("no records")
		return
	}

	for _, rec := range records {
		sig := "valid"
		if !identity.Verify(rec.Address[:], rec.Signature[:]) {
			sig = "INVALID"
		}
		fmt.Printf("%s port %d priority %d tag %d ttl %ds signature %s\n",
			netip.AddrFrom16(rec.Address), rec.Port, rec.Priority, rec.ClientTag, rec.TTL, sig)
	}
}

func loadKey(path string) keys.PrivateKey {
	text, err := os.ReadFile(path)
	if err != nil {
		fatal("failed to read key file: %v", err)
	}

	var key keys.PrivateKey
	if err := key.UnmarshalText([]byte(strings.TrimSpace(string(text)))); err != nil {
		fatal("failed to parse key file: %v", err)
	}
	return key
}

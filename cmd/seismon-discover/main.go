// Command seismon-discover browses the local network for GeoTiny
// seismometers and prints what it finds.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/geotiny/seismon/internal/discovery"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "how long to browse")
	asJSON := flag.Bool("json", false, "print results as JSON")
	flag.Parse()

	stations, err := discovery.Browse(*timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stations)
		return
	}

	if len(stations) == 0 {
		fmt.Println("no stations found")
		return
	}
	for _, s := range stations {
		fmt.Printf("%s\t%s\tport %d", s.Instance, s.Hostname, s.Port)
		for _, a := range s.Addresses {
			fmt.Printf("\t%s", a)
		}
		fmt.Println()
	}
}

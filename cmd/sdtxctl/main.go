// Command sdtxctl is a thin client for the org.surface.dtx bus service: it
// prints a published property or issues a detach Request, dispatched by
// subcommand rather than flags, matching the size and ambition of the
// teacher's own flag-only CLI.
package main

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/surface-linux/surface-dtx/internal/busservice"
)

const propsInterface = "org.freedesktop.DBus.Properties"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sdtxctl: failed to connect to system bus:", err)
		os.Exit(1)
	}
	defer conn.Close()

	switch os.Args[1] {
	case "get":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		if err := get(conn, os.Args[2]); err != nil {
			fmt.Fprintln(os.Stderr, "sdtxctl:", err)
			os.Exit(1)
		}
	case "request":
		if err := request(conn); err != nil {
			fmt.Fprintln(os.Stderr, "sdtxctl:", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sdtxctl get mode|latch|base")
	fmt.Fprintln(os.Stderr, "       sdtxctl request")
}

func get(conn *dbus.Conn, what string) error {
	var prop string
	switch what {
	case "mode":
		prop = "DeviceMode"
	case "latch":
		prop = "LatchStatus"
	case "base":
		prop = "Base"
	default:
		usage()
		return fmt.Errorf("unknown property %q", what)
	}

	obj := conn.Object(busservice.InterfaceName, busservice.ObjectPath)
	var variant dbus.Variant
	err := obj.Call(propsInterface+".Get", 0, busservice.InterfaceName, prop).Store(&variant)
	if err != nil {
		return fmt.Errorf("get %s: %w", prop, err)
	}
	fmt.Println(variant.Value())
	return nil
}

func request(conn *dbus.Conn) error {
	obj := conn.Object(busservice.InterfaceName, busservice.ObjectPath)
	call := obj.Call(busservice.InterfaceName+".Request", 0)
	if call.Err != nil {
		return fmt.Errorf("request: %w", call.Err)
	}
	return nil
}

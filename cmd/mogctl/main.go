// mogctl is a command-line tool for talking to MOGlabs laboratory
// instruments over Ethernet or USB serial.
package main

func main() {
	Execute()
}

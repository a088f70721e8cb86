// Command nocdemo drives the fail-operational NoC controller stack
// against an in-process register-level simulation of the debug modules.
package main

func main() {
	Execute()
}

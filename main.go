// SnapSend - LAN file and folder transfer with broadcast peer discovery
package main

import "snapsend/cmd"

func main() {
	cmd.Execute()
}

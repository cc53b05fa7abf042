// Command ams talks to automation devices over AMS/TCP.
package main

import "github.com/luma/ams/cmd"

func main() {
	cmd.Execute()
}

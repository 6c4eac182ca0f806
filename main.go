// Command goclaw-bridge connects terminal-hosted AI coding agents to Discord
// and Slack.
package main

import "github.com/nextlevelbuilder/goclaw-bridge/cmd"

func main() {
	cmd.Execute()
}

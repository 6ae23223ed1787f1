// ssh-agent-mux multiplexes SSH agent requests across several upstream
// agents, presenting them as one socket to SSH clients.
//
// Usage:
//
//	ssh-agent-mux serve --watch-for-ssh-forward ~/.gnupg/S.gpg-agent.ssh
//	ssh-agent-mux status
package main

import "github.com/kradalby/ssh-agent-mux/internal/cli"

func main() {
	cli.Execute()
}

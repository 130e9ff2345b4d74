package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicProposalVotes(proposalID string) string {
	return fmt.Sprintf("proposal.%s.votes", proposalID)
}

func TopicEventsProposal(proposalID string) string {
	return fmt.Sprintf("events.proposal.%s", proposalID)
}

func TopicEventsAgent(agentID string) string {
	return fmt.Sprintf("events.agent.%s", agentID)
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsProposals = "events.proposal.*"
	TopicEventsConsensus = "events.consensus"
	TopicIPCProposals    = "host.ipc.proposals"
)

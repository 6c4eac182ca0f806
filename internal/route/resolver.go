// Package route implements the deterministic 5-way instance lookup shared by
// the message router, capture poller, and hook server.
package route

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/pending"
)

// Route records which instance last handled a related message, keyed by
// messageId or conversationKey.
type Route struct {
	Project   string
	Instance  string
	AgentType model.AgentType
}

// Memory is the bounded route-memory lookup the resolver consults for
// precedence levels 2 and 3. Router and hook server share one Memory
// implementation so replies routed via either path are visible to both.
type Memory interface {
	ByMessageID(id string) (Route, bool)
	ByConversationKey(key string) (Route, bool)
}

// Input describes an inbound message's routing context.
type Input struct {
	AgentType         model.AgentType
	ProjectName       string
	ChannelID         string
	MessageID         string
	MappedInstanceID  string // explicit instance id, e.g. from a CLI flag
	ReplyToMessageID  string
	ConversationKey   string
	ThreadID          string
	RouteChannelID    string // channel id to match against the project's channel mapping
}

// ErrNoRoute is returned when none of the five precedence levels resolve.
var ErrNoRoute = errors.New("route: no instance resolved for message")

// Resolve applies the 5-way precedence: mappedInstanceId, reply-to memory,
// conversationKey memory, channel mapping, primary-for-agent. The returned
// hint records which level resolved, for surfacing to the user.
func Resolve(ctx context.Context, store model.StateStore, memory Memory, in Input) (project *model.Project, instance *model.Instance, hint pending.Hint, err error) {
	proj, projErr := store.Project(ctx, in.ProjectName)
	if projErr != nil || proj == nil {
		return nil, nil, "", ErrNoRoute
	}

	// (1) explicit instance id.
	if in.MappedInstanceID != "" {
		if inst := proj.FindInstance(in.MappedInstanceID); inst != nil {
			return proj, inst, "", nil
		}
	}

	// (2) reply-to-message route memory.
	if in.ReplyToMessageID != "" && memory != nil {
		if r, ok := memory.ByMessageID(in.ReplyToMessageID); ok && r.Project == proj.Name {
			if inst := proj.FindInstance(r.Instance); inst != nil {
				return proj, inst, pending.HintReply, nil
			}
		}
	}

	// (3) conversation-key route memory.
	if in.ConversationKey != "" && memory != nil {
		if r, ok := memory.ByConversationKey(in.ConversationKey); ok && r.Project == proj.Name {
			if inst := proj.FindInstance(r.Instance); inst != nil {
				return proj, inst, pending.HintMemory, nil
			}
		}
	}

	// (4) channel mapping.
	routeChannel := in.RouteChannelID
	if routeChannel == "" {
		routeChannel = in.ChannelID
	}
	if routeChannel != "" {
		if inst := proj.InstanceByChannel(routeChannel); inst != nil {
			hint := pending.Hint("")
			if in.ThreadID != "" {
				hint = pending.HintThread
			}
			return proj, inst, hint, nil
		}
	}

	// (5) primary instance for the agent type.
	if in.AgentType != "" {
		if inst := proj.PrimaryForAgent(in.AgentType); inst != nil {
			return proj, inst, "", nil
		}
	}

	return nil, nil, "", ErrNoRoute
}

package notifsvc

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/allocation"
	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/project"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/user"
)

// EmailNotifier delivers allocation events to the affected students by email.
// Delivery is best effort and fully asynchronous; a lost email never fails the
// allocation change it reports.
type EmailNotifier struct {
	mailSvc  core.EmailService
	students student.Repository
	users    user.Repository
	groups   group.Repository
	projects project.Repository
	logger   core.Logger
}

var _ allocation.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(
	mailSvc core.EmailService,
	studentRepo student.Repository,
	userRepo user.Repository,
	groupRepo group.Repository,
	projectRepo project.Repository,
	logger core.Logger,
) *EmailNotifier {
	return &EmailNotifier{
		mailSvc:  mailSvc,
		students: studentRepo,
		users:    userRepo,
		groups:   groupRepo,
		projects: projectRepo,
		logger:   logger,
	}
}

func (n *EmailNotifier) Notify(events ...allocation.Event) {
	go n.process(events)
}

func (n *EmailNotifier) process(events []allocation.Event) {
	ctx := context.Background()

	msgs := make([]*core.EmailMessage, 0, len(events))
	for _, evt := range events {
		if evt.Type == allocation.EventRunCompleted {
			continue // per-allocation mails already cover the run
		}
		msg, err := n.message(ctx, evt)
		if err != nil {
			if n.logger != nil {
				n.logger.Warn(fmt.Sprintf("allocation notification skipped: %v", err))
			}
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) > 0 {
		n.mailSvc.SendMessages(msgs...)
	}
}

func (n *EmailNotifier) message(ctx context.Context, evt allocation.Event) (*core.EmailMessage, error) {
	prj, err := n.projects.GetProject(ctx, evt.Allocation.ProjectID)
	if err != nil {
		return nil, err
	}
	recipients, err := n.recipients(ctx, evt.Allocation.Target)
	if err != nil {
		return nil, err
	}

	var subject, body string
	switch evt.Type {
	case allocation.EventCreated:
		subject = "You have been allocated a project"
		body = fmt.Sprintf("You have been allocated to the project %q.", prj.Title)
	case allocation.EventUpdated:
		subject = "Your project allocation has changed"
		body = fmt.Sprintf("Your allocation for the project %q has been updated (status: %s).", prj.Title, evt.Allocation.Status)
	case allocation.EventDeleted:
		subject = "Your project allocation has been removed"
		body = fmt.Sprintf("Your allocation for the project %q has been removed.", prj.Title)
	default:
		return nil, fmt.Errorf("unhandled event type %q", evt.Type)
	}

	return &core.EmailMessage{To: recipients, Subject: subject, BodyStr: body}, nil
}

func (n *EmailNotifier) recipients(ctx context.Context, target allocation.Target) ([]mail.Address, error) {
	var studentIDs []string
	switch target.Type {
	case allocation.TargetStudent:
		studentIDs = []string{target.ID}
	case allocation.TargetGroup:
		grp, err := n.groups.GetGroup(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		studentIDs = grp.MemberIDs()
	}

	var addrs []mail.Address
	for _, id := range studentIDs {
		std, err := n.students.GetStudent(ctx, id)
		if err != nil {
			continue
		}
		usr, err := n.users.GetUser(ctx, user.GetFilter{ID: std.UserID})
		if err != nil || usr.Email == "" {
			continue
		}
		addrs = append(addrs, mail.Address{Name: usr.Name, Address: usr.Email})
	}
	return addrs, nil
}

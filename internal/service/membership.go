package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

// CreatePrivateConversation возвращает беседу принятой дружбы; при первом
// вызове создаёт её с обоими пользователями.
func (s *Service) CreatePrivateConversation(ctx context.Context, friendshipID, actorID string) (*model.Conversation, bool, error) {
	if friendshipID == "" || actorID == "" {
		return nil, false, apperr.Validation(apperr.CodeInvalidID, "friendship id is required")
	}
	var (
		conv    *model.Conversation
		created bool
		members []string
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		f, err := tx.Friendships().GetByID(ctx, friendshipID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && (!f.Involves(actorID) || f.Status != model.FriendshipAccepted)) {
			return apperr.Forbidden(apperr.CodeFriendshipNotAccepted, "friendship is not accepted")
		}
		if err != nil {
			return err
		}
		existing, err := tx.Conversations().GetByFriendship(ctx, friendshipID)
		if err == nil {
			conv = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		now := s.clock()
		conv = &model.Conversation{
			ID:                uuid.NewString(),
			Type:              model.ConversationPrivate,
			FriendshipID:      lo.ToPtr(friendshipID),
			CreatedBy:         actorID,
			MessagePermission: model.PermissionAll,
			JoinMode:          model.JoinApproval,
			CreatedAt:         now,
		}
		if err := tx.Conversations().Create(ctx, conv); err != nil {
			return err
		}
		for _, userID := range []string{f.RequesterID, f.AddresseeID} {
			if err := tx.Memberships().Create(ctx, newMembership(conv, userID, model.RoleMember, now)); err != nil {
				return err
			}
		}
		created = true
		members = []string{f.RequesterID, f.AddresseeID}
		return nil
	})
	if errors.Is(err, storage.ErrDuplicate) {
		// Параллельный запрос создал беседу первым.
		err = s.store.View(ctx, func(tx storage.Tx) error {
			var err error
			conv, err = tx.Conversations().GetByFriendship(ctx, friendshipID)
			return err
		})
		created = false
	}
	if err != nil {
		return nil, false, storageErr("CreatePrivateConversation", err)
	}
	if created {
		for _, userID := range members {
			s.access.InvalidateMember(conv.ID, userID)
		}
		s.publish(bus.KindMembersChanged, conv.ID, MembersChanged{
			Conversation: *conv, Action: MemberCreated, ActorID: actorID, UserIDs: members, Audience: members,
		})
	}
	return conv, created, nil
}

type CreateGroupInput struct {
	OwnerID           string                  `json:"-" validate:"required"`
	Name              string                  `json:"name" validate:"required,max=100"`
	MemberIDs         []string                `json:"member_ids" validate:"max=500,dive,required"`
	MessagePermission model.MessagePermission `json:"message_permission" validate:"omitempty,oneof=all admins_only"`
	JoinMode          model.JoinMode          `json:"join_mode" validate:"omitempty,oneof=approval link"`
}

func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (*model.Conversation, error) {
	in.Name = sanitize(in.Name)
	if err := checkInput(in); err != nil {
		return nil, err
	}
	now := s.clock()
	conv := &model.Conversation{
		ID:                uuid.NewString(),
		Type:              model.ConversationGroup,
		Name:              in.Name,
		CreatedBy:         in.OwnerID,
		MessagePermission: lo.Ternary(in.MessagePermission == "", model.PermissionAll, in.MessagePermission),
		JoinMode:          lo.Ternary(in.JoinMode == "", model.JoinApproval, in.JoinMode),
		CreatedAt:         now,
	}
	others := lo.Without(lo.Uniq(in.MemberIDs), in.OwnerID)

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.Conversations().Create(ctx, conv); err != nil {
			return err
		}
		if err := tx.Memberships().Create(ctx, newMembership(conv, in.OwnerID, model.RoleOwner, now)); err != nil {
			return err
		}
		for _, userID := range others {
			if err := tx.Memberships().Create(ctx, newMembership(conv, userID, model.RoleMember, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("CreateGroup", err)
	}
	all := append([]string{in.OwnerID}, others...)
	s.publish(bus.KindMembersChanged, conv.ID, MembersChanged{
		Conversation: *conv, Action: MemberCreated, ActorID: in.OwnerID, UserIDs: all, Audience: all,
	})
	return conv, nil
}

// newMembership ставит указатель прочтения на текущее последнее сообщение:
// у нового участника нет непрочитанного.
func newMembership(conv *model.Conversation, userID string, role model.Role, now time.Time) *model.Membership {
	m := &model.Membership{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       now,
	}
	if conv.LastMessageID != nil {
		m.LastSeenMessageID = lo.ToPtr(*conv.LastMessageID)
		m.LastSeenAt = lo.ToPtr(now)
	}
	return m
}

// groupOp блокирует групповую беседу и загружает активное участие actor внутри tx.
func groupOp(ctx context.Context, tx storage.Tx, conversationID, actorID string) (*model.Conversation, *model.Membership, error) {
	conv, err := tx.Conversations().GetForUpdate(ctx, conversationID)
	if err != nil {
		return nil, nil, notFoundAs(err, apperr.CodeConversationNotFound, "conversation not found")
	}
	if conv.Type != model.ConversationGroup {
		return nil, nil, apperr.Validation(apperr.CodeInvalidInput, "operation is only available in groups")
	}
	actor, err := tx.Memberships().GetActive(ctx, conversationID, actorID)
	if errors.Is(err, storage.ErrNotFound) {
		return conv, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return conv, actor, nil
}

// AddMember добавляет userID в группу. Владелец и админы добавляют кого угодно,
// в том числе исключённых. Сам себя пользователь добавляет только в группу со
// входом по ссылке и только если его оттуда не исключали.
func (s *Service) AddMember(ctx context.Context, conversationID, actorID, userID string) (*model.Membership, error) {
	if conversationID == "" || actorID == "" || userID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidID, "conversation and user ids are required")
	}
	var (
		added *model.Membership
		out   MembersChanged
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		conv, actor, err := groupOp(ctx, tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if actorID == userID && actor == nil {
			if conv.JoinMode != model.JoinLink {
				return apperr.Forbidden(apperr.CodeNotPrivileged, "this group requires an invitation")
			}
			prev, err := tx.Memberships().GetLatest(ctx, conversationID, userID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			if prev != nil && prev.Kicked() {
				return apperr.Forbidden(apperr.CodeKicked, "removed from this group by an admin")
			}
		} else if actor == nil {
			return apperr.Forbidden(apperr.CodeNotMember, "not a member of this conversation")
		} else if !actor.Role.CanModerate() {
			return apperr.Forbidden(apperr.CodeNotPrivileged, "only owners and admins can add members")
		}

		added = newMembership(conv, userID, model.RoleMember, s.clock())
		if err := tx.Memberships().Create(ctx, added); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.Conflict(apperr.CodeAlreadyMember, "already a member")
			}
			return err
		}
		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		out = MembersChanged{Conversation: *conv, Action: MemberAdded, ActorID: actorID, UserIDs: []string{userID}, Audience: userIDs(members)}
		return nil
	})
	if err != nil {
		return nil, storageErr("AddMember", err)
	}
	s.access.InvalidateMember(conversationID, userID)
	s.publish(bus.KindMembersChanged, conversationID, out)
	return added, nil
}

// Leave: мягкий выход из группы. Владелец может выйти, только оставшись в ней один.
func (s *Service) Leave(ctx context.Context, conversationID, userID string) error {
	var out MembersChanged
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		conv, me, err := groupOp(ctx, tx, conversationID, userID)
		if err != nil {
			return err
		}
		if me == nil {
			return apperr.Forbidden(apperr.CodeNotMember, "not a member of this conversation")
		}
		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		if me.Role == model.RoleOwner && len(members) > 1 {
			return apperr.Conflict(apperr.CodeOwnerCannotLeave, "owner cannot leave while other members remain")
		}
		if err := tx.Memberships().Leave(ctx, conversationID, userID, s.clock()); err != nil {
			return err
		}
		out = MembersChanged{Conversation: *conv, Action: MemberLeft, ActorID: userID, UserIDs: []string{userID}, Audience: userIDs(members)}
		return nil
	})
	if err != nil {
		return storageErr("Leave", err)
	}
	s.access.InvalidateMember(conversationID, userID)
	s.publish(bus.KindMembersChanged, conversationID, out)
	return nil
}

// Kick исключает userID; роль actor должна быть старше.
func (s *Service) Kick(ctx context.Context, conversationID, actorID, userID string) error {
	if actorID == userID {
		return apperr.Validation(apperr.CodeInvalidInput, "use leave to remove yourself")
	}
	var out MembersChanged
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		conv, actor, err := groupOp(ctx, tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if actor == nil {
			return apperr.Forbidden(apperr.CodeNotMember, "not a member of this conversation")
		}
		target, err := tx.Memberships().GetActive(ctx, conversationID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound(apperr.CodeNotMember, "user is not a member")
		}
		if err != nil {
			return err
		}
		if !actor.Role.CanModerate() || actor.Role.Rank() <= target.Role.Rank() {
			return apperr.Forbidden(apperr.CodeNotPrivileged, "not allowed to remove this member")
		}
		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		if err := tx.Memberships().Kick(ctx, conversationID, userID, actorID, s.clock()); err != nil {
			return err
		}
		out = MembersChanged{Conversation: *conv, Action: MemberKicked, ActorID: actorID, UserIDs: []string{userID}, Audience: userIDs(members)}
		return nil
	})
	if err != nil {
		return storageErr("Kick", err)
	}
	s.access.InvalidateMember(conversationID, userID)
	s.publish(bus.KindMembersChanged, conversationID, out)
	return nil
}

// ChangeRole доступен только владельцу и не назначает и не снимает владельца.
func (s *Service) ChangeRole(ctx context.Context, conversationID, actorID, userID string, role model.Role) error {
	if role != model.RoleAdmin && role != model.RoleMember {
		return apperr.Validation(apperr.CodeInvalidInput, "role must be admin or member")
	}
	var out MembersChanged
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		conv, actor, err := groupOp(ctx, tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if actor == nil || actor.Role != model.RoleOwner {
			return apperr.Forbidden(apperr.CodeNotPrivileged, "only the owner can change roles")
		}
		target, err := tx.Memberships().GetActive(ctx, conversationID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound(apperr.CodeNotMember, "user is not a member")
		}
		if err != nil {
			return err
		}
		if target.Role == model.RoleOwner {
			return apperr.Forbidden(apperr.CodeNotPrivileged, "owner role cannot be changed")
		}
		if err := tx.Memberships().SetRole(ctx, conversationID, userID, role); err != nil {
			return err
		}
		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		out = MembersChanged{Conversation: *conv, Action: MemberRole, ActorID: actorID, UserIDs: []string{userID}, Audience: userIDs(members)}
		return nil
	})
	if err != nil {
		return storageErr("ChangeRole", err)
	}
	s.access.InvalidateMember(conversationID, userID)
	s.publish(bus.KindMembersChanged, conversationID, out)
	return nil
}

func (s *Service) SetMessagePermission(ctx context.Context, conversationID, actorID string, perm model.MessagePermission) error {
	if perm != model.PermissionAll && perm != model.PermissionAdminsOnly {
		return apperr.Validation(apperr.CodeInvalidInput, "permission must be all or admins_only")
	}
	var out MembersChanged
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		conv, actor, err := groupOp(ctx, tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if actor == nil || !actor.Role.CanModerate() {
			return apperr.Forbidden(apperr.CodeNotPrivileged, "only owners and admins can change permissions")
		}
		if err := tx.Conversations().SetMessagePermission(ctx, conversationID, perm); err != nil {
			return err
		}
		conv.MessagePermission = perm
		members, err := tx.Memberships().ListActive(ctx, conversationID)
		if err != nil {
			return err
		}
		out = MembersChanged{Conversation: *conv, Action: PermissionChange, ActorID: actorID, Audience: userIDs(members)}
		return nil
	})
	if err != nil {
		return storageErr("SetMessagePermission", err)
	}
	s.access.InvalidateConversation(conversationID)
	s.publish(bus.KindMembersChanged, conversationID, out)
	return nil
}

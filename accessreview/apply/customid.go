package apply

import "fmt"

// Component custom ids carry their routing data inline, split on "/"
// by the interaction handlers. These builders are the single source of
// the id layout so the buttons and their parsers cannot drift apart.

func ApplyButtonID(guildID, categoryID string) string {
	return fmt.Sprintf("/apply/%s/%s", guildID, categoryID)
}

func ApplyModalID(guildID, categoryID string) string {
	return fmt.Sprintf("/applymodal/%s/%s", guildID, categoryID)
}

func AutoApplyButtonID(targetRoleID string) string {
	return fmt.Sprintf("/autoapply/%s", targetRoleID)
}

func ReviewButtonID(action, guildID, categoryID, userID string) string {
	return fmt.Sprintf("/review/%s/%s/%s/%s", action, guildID, categoryID, userID)
}

func FinishButtonID(guildID, categoryID, userID string) string {
	return fmt.Sprintf("/finish/%s/%s/%s", guildID, categoryID, userID)
}

func FinishConfirmID(guildID, categoryID, userID string) string {
	return fmt.Sprintf("/finishconfirm/%s/%s/%s", guildID, categoryID, userID)
}

func FinishCancelID(guildID, categoryID, userID string) string {
	return fmt.Sprintf("/finishcancel/%s/%s/%s", guildID, categoryID, userID)
}

func AdminApproveID(guildID, categoryID, userID string) string {
	return fmt.Sprintf("/adminapprove/%s/%s/%s", guildID, categoryID, userID)
}

func AdminRejectID(guildID, categoryID, userID string) string {
	return fmt.Sprintf("/adminreject/%s/%s/%s", guildID, categoryID, userID)
}

func AdminRoleID(guildID, categoryID, userID string) string {
	return fmt.Sprintf("/adminrole/%s/%s/%s", guildID, categoryID, userID)
}

func ExtraRoleSelectID(guildID, categoryID, userID string) string {
	return fmt.Sprintf("/extrarole/%s/%s/%s", guildID, categoryID, userID)
}

func VoteButtonID(action, voteID string) string {
	return fmt.Sprintf("/vote/%s/%s", action, voteID)
}

func RejectModalID(guildID, categoryID, userID string) string {
	return fmt.Sprintf("/rejectmodal/%s/%s/%s", guildID, categoryID, userID)
}

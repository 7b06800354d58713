package rbac

// Relation is how an actor stands to a role section.
type Relation string
type Action string

const (
	RelationContributor Relation = "contributor"
	RelationFamily      Relation = "family"
	RelationOutsider    Relation = "outsider"
)

const (
	ActionView Action = "view"
	ActionEdit Action = "edit"
)

type Permissions struct {
	CanEdit bool `json:"canEdit"`
	CanView bool `json:"canView"`
}

func Can(relation Relation, action Action) bool {
	switch relation {
	case RelationContributor:
		return action == ActionView || action == ActionEdit
	case RelationFamily:
		return action == ActionView
	default:
		return false
	}
}

// RelationFor classifies actorID from actorTenant against a section owned by
// ownerTenant and edited by contributors.
func RelationFor(ownerTenant string, contributors []string, actorID, actorTenant string) Relation {
	if ownerTenant == "" || ownerTenant != actorTenant {
		return RelationOutsider
	}
	for _, id := range contributors {
		if id == actorID {
			return RelationContributor
		}
	}
	return RelationFamily
}

func PermissionsFor(relation Relation) Permissions {
	return Permissions{
		CanEdit: Can(relation, ActionEdit),
		CanView: Can(relation, ActionView),
	}
}

// internal/room/categories.go
package room

// SBCategories is the full science bowl subject list.
var SBCategories = []string{
	"Biology",
	"Chemistry",
	"Earth and Space",
	"Energy",
	"Math",
	"Physics",
}

// CategoryManager tracks which subjects a room currently plays. It is owned
// by the room and mutated only under the room lock.
type CategoryManager struct {
	subjects []string
}

// NewCategoryManager starts with the given subjects, or every subject when
// none are given.
func NewCategoryManager(subjects []string) *CategoryManager {
	if len(subjects) == 0 {
		subjects = append([]string(nil), SBCategories...)
	}
	return &CategoryManager{subjects: subjects}
}

// SetSubjects replaces the active subject set.
func (cm *CategoryManager) SetSubjects(subjects []string) {
	cm.subjects = append([]string(nil), subjects...)
}

// Subjects returns a copy of the active subject set.
func (cm *CategoryManager) Subjects() []string {
	return append([]string(nil), cm.subjects...)
}

// Export produces the payload merged into connection-acknowledged-query.
func (cm *CategoryManager) Export() map[string]interface{} {
	return map[string]interface{}{
		"subjects":      cm.Subjects(),
		"allCategories": SBCategories,
	}
}

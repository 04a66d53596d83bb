package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/student"
)

type studentRepository struct {
	db *DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) *studentRepository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) CreateStudent(ctx context.Context, std student.Student, exec ...core.DBExecutor) (student.Student, error) {
	data, release := repo.db.tables(exec)
	defer release()

	std.ID = uuid.New().String()
	data.students[std.ID] = std
	return std, nil
}

func (repo *studentRepository) GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if std, ok := data.students[id]; ok {
		return std, nil
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) GetStudentByUserID(ctx context.Context, userID string, exec ...core.DBExecutor) (student.Student, error) {
	data, release := repo.db.tables(exec)
	defer release()

	for _, std := range data.students {
		if std.UserID == userID {
			return std, nil
		}
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, exec ...core.DBExecutor) ([]student.Student, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var students []student.Student
	for _, std := range data.students {
		if filter != nil {
			if filter.Search != "" && !matchesSearch(filter.Search, std.RegNo, std.Program) {
				continue
			}
			if filter.Program != "" && std.Program != filter.Program {
				continue
			}
			if filter.GroupID != "" && std.CurrentGroupID != filter.GroupID {
				continue
			}
			if filter.Ungrouped && std.InGroup() {
				continue
			}
		}
		students = append(students, std)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].RegNo < students[j].RegNo })
	return students, nil
}

func (repo *studentRepository) CountStudents(ctx context.Context, exec ...core.DBExecutor) (int, error) {
	data, release := repo.db.tables(exec)
	defer release()
	return len(data.students), nil
}

func (repo *studentRepository) UpdateStudent(ctx context.Context, std student.Student, exec ...core.DBExecutor) (student.Student, error) {
	data, release := repo.db.tables(exec)
	defer release()

	if _, ok := data.students[std.ID]; !ok {
		return student.Student{}, student.ErrNotFound
	}
	data.students[std.ID] = std
	return std, nil
}

func (repo *studentRepository) SetCurrentGroup(ctx context.Context, groupID string, studentIDs []string, exec ...core.DBExecutor) error {
	data, release := repo.db.tables(exec)
	defer release()

	now := time.Now().UTC()
	for _, id := range studentIDs {
		std, ok := data.students[id]
		if !ok {
			return student.ErrNotFound
		}
		std.CurrentGroupID = groupID
		std.UpdatedAt = now
		data.students[id] = std
	}
	return nil
}

func (repo *studentRepository) DeleteStudentsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	data, release := repo.db.tables(exec)
	defer release()

	var cnt int
	for _, id := range ids {
		if _, ok := data.students[id]; ok {
			delete(data.students, id)
			cnt++
		}
	}
	return cnt, nil
}

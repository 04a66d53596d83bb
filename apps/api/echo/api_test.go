package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/miradi/core"
	"github.com/trezcool/miradi/core/allocation"
	"github.com/trezcool/miradi/core/group"
	"github.com/trezcool/miradi/core/project"
	"github.com/trezcool/miradi/core/student"
	"github.com/trezcool/miradi/core/supervisor"
	"github.com/trezcool/miradi/core/user"
	emailsvc "github.com/trezcool/miradi/services/email"
	logsvc "github.com/trezcool/miradi/services/logger"
	dummydb "github.com/trezcool/miradi/storage/database/dummy"
)

type apiFixture struct {
	server      Server
	users       user.Repository
	students    student.Repository
	supervisors supervisor.Repository
	projects    project.Repository
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	conf := &core.Config{
		AppName:                   "Miradi",
		SecretKey:                 "s3cret-t3st-k3y",
		TestMode:                  true,
		JWTExpirationDelta:        time.Hour,
		JWTRefreshExpirationDelta: 4 * time.Hour,
		Allocation: core.AllocationConfig{
			RunTimeout:    5 * time.Second,
			MaxRounds:     1000,
			MaxRunRetries: 2,
		},
	}

	db := dummydb.Open()
	userRepo := dummydb.NewUserRepository(db)
	studentRepo := dummydb.NewStudentRepository(db)
	supervisorRepo := dummydb.NewSupervisorRepository(db)
	projectRepo := dummydb.NewProjectRepository(db)
	groupRepo := dummydb.NewGroupRepository(db)
	allocRepo := dummydb.NewAllocationRepository(db)

	mailSvc := emailsvc.NewConsoleServiceMock(conf)

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	logger := logsvc.NewRollbarLogger(log.New(ioutil.Discard, "TEST : ", log.LstdFlags), conf)
	logger.Enable(false)

	f := &apiFixture{
		users:       userRepo,
		students:    studentRepo,
		supervisors: supervisorRepo,
		projects:    projectRepo,
	}
	f.server = NewServer(ServerDeps{
		Conf:          conf,
		Logger:        logger,
		UserSvc:       user.NewService(userRepo),
		StudentSvc:    student.NewService(db, studentRepo, allocRepo),
		SupervisorSvc: supervisor.NewService(supervisorRepo),
		ProjectSvc:    project.NewService(db, projectRepo, supervisorRepo, allocRepo),
		GroupSvc:      group.NewService(db, groupRepo, studentRepo, userRepo, allocRepo, mailSvc, conf),
		AllocSvc: allocation.NewService(
			db, allocRepo, studentRepo, supervisorRepo, projectRepo, groupRepo, nil, conf, logger,
		),
		Validate:   validate,
		Translator: translator,
	})
	return f
}

func (f *apiFixture) createUser(t *testing.T, uname, pwd string, roles []string) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		Name:      uname,
		Username:  uname,
		Email:     uname + "@test.cd",
		IsActive:  true,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, usr.SetPassword(pwd))
	usr, err := f.users.CreateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr
}

func (f *apiFixture) createStudentUser(t *testing.T, uname, pwd string) (user.User, student.Student) {
	t.Helper()
	usr := f.createUser(t, uname, pwd, user.StudentRoles)
	std, err := f.students.CreateStudent(context.Background(), student.Student{
		UserID: usr.ID,
		RegNo:  "reg-" + uname,
	})
	require.NoError(t, err)
	return usr, std
}

func (f *apiFixture) addProject(t *testing.T, maxStudents int) project.Project {
	t.Helper()
	sup, err := f.supervisors.CreateSupervisor(context.Background(), supervisor.Supervisor{
		UserID: "u-sup-" + t.Name(), Department: "CS", MaxCapacity: 5,
	})
	require.NoError(t, err)
	prj, err := f.projects.CreateProject(context.Background(), project.Project{
		SupervisorID: sup.ID,
		Title:        "Project " + t.Name(),
		MaxStudents:  maxStudents,
		IsAvailable:  true,
		Status:       project.StatusApproved,
	})
	require.NoError(t, err)
	return prj
}

func (f *apiFixture) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(t *testing.T, uname, pwd string) string {
	t.Helper()
	rec := f.request(t, http.MethodPost, "/v1/users/login", "", LoginRequest{Username: uname, Password: pwd})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func Test_allocationApi_submitPreferences(t *testing.T) {
	f := setupAPI(t)
	p1 := f.addProject(t, 2)
	p2 := f.addProject(t, 2)
	f.createStudentUser(t, "awa", "s3cret")
	token := f.login(t, "awa", "s3cret")

	// duplicate ranks are rejected before anything persists
	rec := f.request(t, http.MethodPost, "/v1/allocations/preferences", token, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{
			{ProjectID: p1.ID, Rank: 1},
			{ProjectID: p2.ID, Rank: 1},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodGet, "/v1/allocations/preferences", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prefs []allocation.Preference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prefs))
	assert.Empty(t, prefs)

	// same project listed twice is rejected too
	rec = f.request(t, http.MethodPost, "/v1/allocations/preferences", token, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{
			{ProjectID: p1.ID, Rank: 1},
			{ProjectID: p1.ID, Rank: 2},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	// a well-formed list goes through
	rec = f.request(t, http.MethodPost, "/v1/allocations/preferences", token, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{
			{ProjectID: p2.ID, Rank: 1},
			{ProjectID: p1.ID, Rank: 2},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodGet, "/v1/allocations/preferences", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prefs))
	require.Len(t, prefs, 2)
	assert.Equal(t, p2.ID, prefs[0].ProjectID)
}

func Test_allocationApi_permissions(t *testing.T) {
	f := setupAPI(t)
	f.createUser(t, "coord", "s3cret", user.CoordinatorRoles)
	coordToken := f.login(t, "coord", "s3cret")
	f.createStudentUser(t, "awa", "s3cret")
	stdToken := f.login(t, "awa", "s3cret")

	// no token
	rec := f.request(t, http.MethodGet, "/v1/allocations/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// students cannot run matching, coordinators cannot submit preferences
	rec = f.request(t, http.MethodPost, "/v1/allocations/run", stdToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.request(t, http.MethodPost, "/v1/allocations/preferences", coordToken, allocation.SubmitPreferences{
		Preferences: []allocation.PreferenceInput{{ProjectID: "p1", Rank: 1}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_allocationApi_errorMapping(t *testing.T) {
	f := setupAPI(t)
	prj := f.addProject(t, 2)
	_, std := f.createStudentUser(t, "awa", "s3cret")
	f.createUser(t, "coord", "s3cret", user.CoordinatorRoles)
	token := f.login(t, "coord", "s3cret")

	// unknown allocation id
	rec := f.request(t, http.MethodGet, "/v1/allocations/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	// unknown project on a manual allocation
	rec = f.request(t, http.MethodPost, "/v1/allocations", token, allocation.ManualAllocation{
		ProjectID:       "nope",
		AllocatedToType: allocation.TargetStudent,
		AllocatedToID:   std.ID,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	// first manual allocation lands, the duplicate conflicts
	body := allocation.ManualAllocation{
		ProjectID:       prj.ID,
		AllocatedToType: allocation.TargetStudent,
		AllocatedToID:   std.ID,
	}
	rec = f.request(t, http.MethodPost, "/v1/allocations", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.request(t, http.MethodPost, "/v1/allocations", token, body)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

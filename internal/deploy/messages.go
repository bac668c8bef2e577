package deploy

import "fmt"

func successConfigOnly() string {
	return `
--- Your project is now configured for deployment on PythonAnywhere ---

To deploy your project, you will need to:
- Commit the changes made in the configuration process:
    $ git add .
    $ git commit -m "Configured project for deployment to PythonAnywhere."
- Push your project to its repository.
- Run this tool again with --automate-all, or follow the platform's
  manual deployment steps: clone the repository in a bash console, create
  a virtualenv, install requirements, and run migrations.
`
}

func successAutomateAll(deployedURL string) string {
	return fmt.Sprintf(`
--- Your project should now be deployed on PythonAnywhere ---

It should have opened up in a new browser tab. If you see a
"server not available" message, wait a minute or two and refresh the tab.

    %s

As you develop your project further:
- Commit and push your changes as usual.
- Re-run the setup through a bash console (or this tool) to pull, install
  requirements, and migrate.
`, deployedURL)
}
